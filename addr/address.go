package addr

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"
)

// Domain 表示地址族
type Domain int

const (
	Unspec Domain = iota
	Inet
	Inet6
	Unix
)

// 编码后的固定长度，各变体互不相同（Decode 依赖此性质推断地址族）
const (
	inetWireSize  = 16
	inet6WireSize = 28
	unixWireSize  = 110

	// UnixPathMax 为 unix 路径的最大字节数（不含结尾 NUL）
	UnixPathMax = unixWireSize - 2 - 1
)

var (
	ErrUnsupportedDomain = errors.New("addr: unsupported domain")
	ErrInvalidAddress    = errors.New("addr: invalid address")
)

func (d Domain) String() string {
	switch d {
	case Inet:
		return "inet"
	case Inet6:
		return "inet6"
	case Unix:
		return "unix"
	case Unspec:
		return "unspec"
	}
	return "domain(" + strconv.Itoa(int(d)) + ")"
}

// Family 返回对应的 AF_* 常量
func (d Domain) Family() int {
	switch d {
	case Inet:
		return unix.AF_INET
	case Inet6:
		return unix.AF_INET6
	case Unix:
		return unix.AF_UNIX
	}
	return unix.AF_UNSPEC
}

// DomainOf 由 AF_* 常量得到 Domain
func DomainOf(family int) (Domain, error) {
	switch family {
	case unix.AF_INET:
		return Inet, nil
	case unix.AF_INET6:
		return Inet6, nil
	case unix.AF_UNIX:
		return Unix, nil
	case unix.AF_UNSPEC:
		return Unspec, nil
	}
	return Unspec, ErrUnsupportedDomain
}

// SocketAddress 是 IPv4 / IPv6 / unix 路径三选一的地址值，构造后不可变
type SocketAddress struct {
	domain Domain
	ip     [16]byte
	port   uint16
	path   string
}

func (a SocketAddress) Domain() Domain { return a.domain }
func (a SocketAddress) Port() uint16 { return a.port }
func (a SocketAddress) Path() string { return a.path }
func (a SocketAddress) IsZero() bool { return a.domain == Unspec }

// IP 返回地址的 IP 部分；unix 地址返回 nil
func (a SocketAddress) IP() net.IP {
	switch a.domain {
	case Inet:
		ip := make(net.IP, 4)
		copy(ip, a.ip[:4])
		return ip
	case Inet6:
		ip := make(net.IP, 16)
		copy(ip, a.ip[:])
		return ip
	}
	return nil
}

// Host 返回可读的主机部分（IP 文本或 unix 路径）
func (a SocketAddress) Host() string {
	if a.domain == Unix {
		return a.path
	}
	if ip := a.IP(); ip != nil {
		return ip.String()
	}
	return ""
}

func (a SocketAddress) String() string {
	switch a.domain {
	case Inet, Inet6:
		return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.port)))
	case Unix:
		return a.path
	}
	return "<unspec>"
}

// Encode 由 host/port 构造地址；host 为空时得到通配地址。
// Unix 域中 host 即路径，port 被忽略。
func Encode(domain Domain, host string, port uint16) (SocketAddress, error) {
	a := SocketAddress{domain: domain, port: port}
	switch domain {
	case Inet:
		if host == "" {
			return a, nil
		}
		ip := net.ParseIP(host).To4()
		if ip == nil {
			return SocketAddress{}, ErrInvalidAddress
		}
		copy(a.ip[:4], ip)
		return a, nil
	case Inet6:
		if host == "" {
			return a, nil
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return SocketAddress{}, ErrInvalidAddress
		}
		copy(a.ip[:], ip.To16())
		return a, nil
	case Unix:
		if host == "" || len(host) > UnixPathMax {
			return SocketAddress{}, ErrInvalidAddress
		}
		a.port = 0
		a.path = host
		return a, nil
	}
	return SocketAddress{}, ErrUnsupportedDomain
}

// Any 返回指定地址族的通配地址
func Any(domain Domain, port uint16) (SocketAddress, error) {
	if domain == Unix {
		return SocketAddress{}, ErrUnsupportedDomain
	}
	return Encode(domain, "", port)
}

// WireSize 返回编码后长度；未知地址族为 0
func WireSize(a SocketAddress) int {
	switch a.domain {
	case Inet:
		return inetWireSize
	case Inet6:
		return inet6WireSize
	case Unix:
		return unixWireSize
	}
	return 0
}

func wireSizeOf(d Domain) int { return WireSize(SocketAddress{domain: d}) }

// Bytes 返回定长编码：
//
//	family(2B BE) | port(2B BE) | addr ...            inet  16B
//	family(2B BE) | port(2B BE) | flow(4B) | addr(16B) | scope(4B)  inet6 28B
//	family(2B BE) | path, NUL 填充                     unix 110B
func (a SocketAddress) Bytes() []byte {
	n := WireSize(a)
	if n == 0 {
		return nil
	}
	b := make([]byte, n)
	binary.BigEndian.PutUint16(b[0:2], uint16(a.domain.Family()))
	switch a.domain {
	case Inet:
		binary.BigEndian.PutUint16(b[2:4], a.port)
		copy(b[4:8], a.ip[:4])
	case Inet6:
		binary.BigEndian.PutUint16(b[2:4], a.port)
		copy(b[8:24], a.ip[:])
	case Unix:
		copy(b[2:], a.path)
	}
	return b
}

// Decode 仅根据长度推断地址族并解码
func Decode(raw []byte) (SocketAddress, error) {
	switch len(raw) {
	case inetWireSize:
		return decode(Inet, raw)
	case inet6WireSize:
		return decode(Inet6, raw)
	case unixWireSize:
		return decode(Unix, raw)
	}
	return SocketAddress{}, ErrUnsupportedDomain
}

// DecodeTagged 使用显式地址族解码，长度与 family 字段都要求一致
func DecodeTagged(domain Domain, raw []byte) (SocketAddress, error) {
	n := wireSizeOf(domain)
	if n == 0 {
		return SocketAddress{}, ErrUnsupportedDomain
	}
	if len(raw) != n || int(binary.BigEndian.Uint16(raw[0:2])) != domain.Family() {
		return SocketAddress{}, ErrInvalidAddress
	}
	return decode(domain, raw)
}

func decode(domain Domain, raw []byte) (SocketAddress, error) {
	a := SocketAddress{domain: domain}
	switch domain {
	case Inet:
		a.port = binary.BigEndian.Uint16(raw[2:4])
		copy(a.ip[:4], raw[4:8])
	case Inet6:
		a.port = binary.BigEndian.Uint16(raw[2:4])
		copy(a.ip[:], raw[8:24])
	case Unix:
		p := raw[2:]
		for i, c := range p {
			if c == 0 {
				p = p[:i]
				break
			}
		}
		if len(p) == 0 {
			return SocketAddress{}, ErrInvalidAddress
		}
		a.path = string(p)
	}
	return a, nil
}
