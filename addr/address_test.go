package addr

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
)

func TestWireSizeInjective(t *testing.T) {
	v4, _ := Encode(Inet, "127.0.0.1", 80)
	v6, _ := Encode(Inet6, "::1", 80)
	un, _ := Encode(Unix, "/tmp/sx.sock", 0)
	seen := map[int]Domain{}
	for _, a := range []SocketAddress{v4, v6, un} {
		n := WireSize(a)
		if d, dup := seen[n]; dup {
			t.Fatalf("wire size %d shared by %v and %v", n, d, a.Domain())
		}
		seen[n] = a.Domain()
		if len(a.Bytes()) != n {
			t.Fatalf("%v: Bytes len %d, WireSize %d", a.Domain(), len(a.Bytes()), n)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		domain Domain
		host   string
		port   uint16
	}{
		{Inet, "192.168.1.20", 8080},
		{Inet6, "2001:db8::7", 443},
		{Unix, "/var/run/spartanx.sock", 0},
		{Unix, strings.Repeat("p", UnixPathMax), 0},
	}
	for _, c := range cases {
		a, err := Encode(c.domain, c.host, c.port)
		if err != nil {
			t.Fatalf("encode %v %q: %v", c.domain, c.host, err)
		}
		got, err := Decode(a.Bytes())
		if err != nil {
			t.Fatalf("decode %v: %v", c.domain, err)
		}
		if got.Domain() != c.domain || got.Port() != c.port {
			t.Fatalf("got %v/%d, want %v/%d", got.Domain(), got.Port(), c.domain, c.port)
		}
		if c.domain == Unix {
			if got.Path() != c.host {
				t.Fatalf("path %q, want %q", got.Path(), c.host)
			}
			continue
		}
		if !got.IP().Equal(net.ParseIP(c.host)) {
			t.Fatalf("ip %v, want %s", got.IP(), c.host)
		}
		tagged, err := DecodeTagged(c.domain, a.Bytes())
		if err != nil || tagged != got {
			t.Fatalf("tagged decode mismatch: %v %v", tagged, err)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := Encode(Domain(42), "x", 1); !errors.Is(err, ErrUnsupportedDomain) {
		t.Fatalf("want ErrUnsupportedDomain, got %v", err)
	}
	if _, err := Encode(Inet, "::1", 1); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("v6 literal in inet: %v", err)
	}
	if _, err := Encode(Unix, strings.Repeat("a", UnixPathMax+1), 0); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("long path: %v", err)
	}
	if _, err := Decode(make([]byte, 3)); !errors.Is(err, ErrUnsupportedDomain) {
		t.Fatalf("odd size: %v", err)
	}
	v4, _ := Encode(Inet, "10.0.0.1", 1)
	if _, err := DecodeTagged(Inet6, v4.Bytes()); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("tag mismatch: %v", err)
	}
}

func TestSockaddrConversion(t *testing.T) {
	a, _ := Encode(Inet6, "fe80::1", 9000)
	sa, err := a.Sockaddr()
	if err != nil {
		t.Fatal(err)
	}
	b, err := FromSockaddr(sa)
	if err != nil || b != a {
		t.Fatalf("got %v %v, want %v", b, err, a)
	}
}

type fakeResolver struct {
	ips   []net.IPAddr
	err   error
	ports map[string]int
}

func (f fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return f.ips, f.err
}

func (f fakeResolver) LookupPort(ctx context.Context, network, service string) (int, error) {
	if p, ok := f.ports[service]; ok {
		return p, nil
	}
	return 0, errors.New("unknown service")
}

func TestResolveOrderAndFilter(t *testing.T) {
	r := fakeResolver{
		ips: []net.IPAddr{
			{IP: net.ParseIP("2001:db8::1")},
			{IP: net.ParseIP("10.1.2.3")},
		},
		ports: map[string]int{"http": 80},
	}
	got, err := ResolveWith(context.Background(), r, "example.test", "http", Hints{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Domain() != Inet6 || got[1].Domain() != Inet || got[1].Port() != 80 {
		t.Fatalf("unexpected result %v", got)
	}

	got, err = ResolveWith(context.Background(), fakeResolver{ips: r.ips[:1]}, "example.test", "81", Hints{Domain: Inet})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("want empty result, got %v", got)
	}
}

func TestResolveFailure(t *testing.T) {
	r := fakeResolver{err: errors.New("no such host")}
	_, err := ResolveWith(context.Background(), r, "nowhere.test", "80", Hints{})
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("want ErrResolution, got %v", err)
	}
	_, err = ResolveWith(context.Background(), r, "127.0.0.1", "no-such-service", Hints{})
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("service failure: %v", err)
	}
}

func TestResolveLiteral(t *testing.T) {
	got, err := ResolveWith(context.Background(), fakeResolver{err: errors.New("unused")}, "127.0.0.1", "7", Hints{})
	if err != nil || len(got) != 1 || got[0].String() != "127.0.0.1:7" {
		t.Fatalf("literal resolve: %v %v", got, err)
	}
}
