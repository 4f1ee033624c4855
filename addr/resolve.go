package addr

import (
	"context"
	"net"
	"strconv"

	"github.com/nikandfor/errors"
	"golang.org/x/net/idna"
	"golang.org/x/sys/unix"
)

// ErrResolution 表示名字解析失败
var ErrResolution = errors.New("addr: resolution failed")

// Hints 对应 getaddrinfo 的 hints：限定地址族与套接字类型
type Hints struct {
	Domain Domain // Unspec 表示不限
	Type   int    // unix.SOCK_STREAM / unix.SOCK_DGRAM，0 视为 stream
}

// Resolver 为名字解析的外部依赖，*net.Resolver 即满足
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
}

// ResolveError 携带失败的主机名/服务名，errors.Is(err, ErrResolution) 成立
type ResolveError struct {
	Host    string
	Service string
	Err     error
}

func (e *ResolveError) Error() string {
	return "addr: resolve " + net.JoinHostPort(e.Host, e.Service) + ": " + e.Err.Error()
}

func (e *ResolveError) Unwrap() error { return e.Err }

func (e *ResolveError) Is(target error) bool { return target == ErrResolution }

// Resolve 使用 net.DefaultResolver 解析
func Resolve(ctx context.Context, host, service string, hints Hints) ([]SocketAddress, error) {
	return ResolveWith(ctx, net.DefaultResolver, host, service, hints)
}

// ResolveWith 按解析器返回顺序产出候选地址。
// 解析失败返回 ErrResolution；解析成功但没有可用地址族时返回空切片。
func ResolveWith(ctx context.Context, r Resolver, host, service string, hints Hints) ([]SocketAddress, error) {
	switch hints.Domain {
	case Unspec, Inet, Inet6:
	default:
		return nil, ErrUnsupportedDomain
	}
	fail := func(err error) error { return &ResolveError{Host: host, Service: service, Err: err} }

	port, err := lookupPort(ctx, r, service, hints.Type)
	if err != nil {
		return nil, fail(err)
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fail(err)
		}
		res, err := r.LookupIPAddr(ctx, ascii)
		if err != nil {
			return nil, fail(err)
		}
		for _, ia := range res {
			ips = append(ips, ia.IP)
		}
	}

	out := make([]SocketAddress, 0, len(ips))
	for _, ip := range ips {
		a := SocketAddress{port: port}
		if ip4 := ip.To4(); ip4 != nil {
			a.domain = Inet
			copy(a.ip[:4], ip4)
		} else if ip16 := ip.To16(); ip16 != nil {
			a.domain = Inet6
			copy(a.ip[:], ip16)
		} else {
			continue
		}
		if hints.Domain != Unspec && hints.Domain != a.domain {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func lookupPort(ctx context.Context, r Resolver, service string, typ int) (uint16, error) {
	if service == "" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(service, 10, 16); err == nil {
		return uint16(n), nil
	}
	network := "tcp"
	if typ == unix.SOCK_DGRAM {
		network = "udp"
	}
	p, err := r.LookupPort(ctx, network, service)
	if err != nil {
		return 0, err
	}
	return uint16(p), nil
}
