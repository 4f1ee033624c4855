package addr

import "golang.org/x/sys/unix"

// Sockaddr 转换为系统调用使用的 unix.Sockaddr
func (a SocketAddress) Sockaddr() (unix.Sockaddr, error) {
	switch a.domain {
	case Inet:
		sa := &unix.SockaddrInet4{Port: int(a.port)}
		copy(sa.Addr[:], a.ip[:4])
		return sa, nil
	case Inet6:
		sa := &unix.SockaddrInet6{Port: int(a.port)}
		copy(sa.Addr[:], a.ip[:])
		return sa, nil
	case Unix:
		return &unix.SockaddrUnix{Name: a.path}, nil
	}
	return nil, ErrUnsupportedDomain
}

// FromSockaddr 由 accept/getsockname 的结果构造地址
func FromSockaddr(sa unix.Sockaddr) (SocketAddress, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		a := SocketAddress{domain: Inet, port: uint16(v.Port)}
		copy(a.ip[:4], v.Addr[:])
		return a, nil
	case *unix.SockaddrInet6:
		a := SocketAddress{domain: Inet6, port: uint16(v.Port)}
		copy(a.ip[:], v.Addr[:])
		return a, nil
	case *unix.SockaddrUnix:
		// 匿名对端（未 bind 的客户端）没有路径
		return SocketAddress{domain: Unix, path: v.Name}, nil
	}
	return SocketAddress{}, ErrUnsupportedDomain
}
