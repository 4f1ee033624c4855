//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package client

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/net/nettest"

	"github.com/projectSX0/spartanX/addr"
	"github.com/projectSX0/spartanX/conn"
	"github.com/projectSX0/spartanX/kernel"
)

func newManager(t *testing.T) *kernel.Manager {
	t.Helper()
	m, err := kernel.NewManager(1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// echoListener 回显每个连接收到的数据
func echoListener(t *testing.T, l net.Listener) {
	t.Helper()
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
}

func hostPort(t *testing.T, l net.Listener) (string, string) {
	t.Helper()
	h, p, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	return h, p
}

type collector chan []byte

func (c collector) Received(_ *conn.Connection, data []byte) (bool, error) {
	c <- append([]byte(nil), data...)
	return true, nil
}

func (c collector) ExceptionRaised(*conn.Connection, error) bool { return false }

func (c collector) expect(t *testing.T, want string) {
	t.Helper()
	var got []byte
	deadline := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case b := <-c:
			got = append(got, b...)
		case <-deadline:
			t.Fatalf("received %q, want %q", got, want)
		}
	}
	if string(got) != want {
		t.Fatalf("received %q, want %q", got, want)
	}
}

func TestDialEcho(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	echoListener(t, l)
	host, port := hostPort(t, l)

	m := newManager(t)
	got := make(collector, 8)
	c, err := Dial(context.Background(), m, "tcp", host, port, got)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.PeerAddr().Port() == 0 || c.LocalAddr().Port() == 0 {
		t.Fatalf("addresses not recorded: %v -> %v", c.LocalAddr(), c.PeerAddr())
	}
	if err := c.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	got.expect(t, "ping")
}

func TestConnectTriesCandidatesInOrder(t *testing.T) {
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, deadPort := hostPort(t, dead)
	dead.Close()

	live, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	echoListener(t, live)
	_, livePort := hostPort(t, live)

	var cands []addr.SocketAddress
	for _, p := range []string{deadPort, livePort} {
		n, _ := strconv.Atoi(p)
		a, err := addr.Encode(addr.Inet, "127.0.0.1", uint16(n))
		if err != nil {
			t.Fatal(err)
		}
		cands = append(cands, a)
	}
	s, err := connect(context.Background(), cands, buildOptions(nil))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.PeerAddr() != cands[1] {
		t.Fatalf("connected to %v, want %v", s.PeerAddr(), cands[1])
	}

	if _, err := connect(context.Background(), nil, buildOptions(nil)); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("err = %v", err)
	}
}

type failingResolver struct{}

func (failingResolver) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	return nil, &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}
}

func (failingResolver) LookupPort(context.Context, string, string) (int, error) { return 80, nil }

func TestDialResolverFailure(t *testing.T) {
	m := newManager(t)
	_, err := Dial(context.Background(), m, "tcp", "nowhere.invalid", "80", make(collector), WithResolver(failingResolver{}))
	if !errors.Is(err, addr.ErrResolution) {
		t.Fatalf("err = %v", err)
	}
}

func TestDialUnsupportedNetwork(t *testing.T) {
	m := newManager(t)
	if _, err := Dial(context.Background(), m, "udp", "127.0.0.1", "53", make(collector)); !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v", err)
	}
}

func TestDialUnix(t *testing.T) {
	path, err := nettest.LocalPath()
	if err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	echoListener(t, l)

	m := newManager(t)
	got := make(collector, 8)
	c, err := DialUnix(context.Background(), m, path, got)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.Write([]byte("local"))
	got.expect(t, "local")
}

func TestDialFramed(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	echoListener(t, l)
	host, port := hostPort(t, l)

	m := newManager(t)
	got := make(collector, 8)
	c, err := Dial(context.Background(), m, "tcp", host, port, got, WithFramed(16, 0))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	// 回显的帧原样返回，FramedIO 拆帧后逐个交付
	if err := c.WriteBatch([][]byte{[]byte("a"), []byte("bb")}); err != nil {
		t.Fatal(err)
	}
	c.Write([]byte("ccc"))
	got.expect(t, "abbccc")
}

func selfSigned(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "spartanx.test"},
		DNSNames:     []string{"spartanx.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, pool
}

func tlsListener(t *testing.T) (net.Listener, *tls.Config) {
	t.Helper()
	cert, roots := selfSigned(t)
	l, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatal(err)
	}
	return l, &tls.Config{RootCAs: roots, ServerName: "spartanx.test"}
}

func TestDialTLS(t *testing.T) {
	l, cfg := tlsListener(t)
	echoListener(t, l)
	host, port := hostPort(t, l)

	m := newManager(t)
	got := make(collector, 8)
	c, err := Dial(context.Background(), m, "tcp", host, port, got, WithTLS(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.Write([]byte("secure"))
	got.expect(t, "secure")
}

func TestDialTLSServerSpeaksFirst(t *testing.T) {
	l, cfg := tlsListener(t)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			// 问候语紧随握手发出，可能在客户端握手期间就被读入
			c.Write([]byte("welcome"))
			t.Cleanup(func() { c.Close() })
		}
	}()
	host, port := hostPort(t, l)

	m := newManager(t)
	for i := 0; i < 10; i++ {
		got := make(collector, 8)
		c, err := Dial(context.Background(), m, "tcp", host, port, got, WithTLS(cfg))
		if err != nil {
			t.Fatal(err)
		}
		got.expect(t, "welcome")
		c.Close()
	}
}

func TestOneshot(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	echoListener(t, l)
	host, port := hostPort(t, l)

	resp, err := Oneshot(context.Background(), "tcp", host, port, []byte("question"), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "question" {
		t.Fatalf("resp = %q", resp)
	}
}

func TestOneshotTLS(t *testing.T) {
	l, cfg := tlsListener(t)
	echoListener(t, l)
	host, port := hostPort(t, l)

	resp, err := Oneshot(context.Background(), "tcp", host, port, []byte("sealed"), WithTLS(cfg), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "sealed" {
		t.Fatalf("resp = %q", resp)
	}
}

func TestOneshotTimeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		time.Sleep(time.Second)
		c.Close()
	}()
	host, port := hostPort(t, l)

	start := time.Now()
	_, err = Oneshot(context.Background(), "tcp", host, port, []byte("hello?"), WithTimeout(100*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Fatal("timeout not honored")
	}
}
