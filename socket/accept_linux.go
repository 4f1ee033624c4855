//go:build linux

package socket

import (
	"golang.org/x/sys/unix"

	"github.com/projectSX0/spartanX/addr"
)

// Accept 接受一个连接，新套接字直接以非阻塞、close-on-exec 方式创建。
// 监听套接字非阻塞且队列为空时返回的错误满足 IsWouldBlock。
func (s *Socket) Accept() (*Socket, error) {
	for {
		fd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			return nil, wrap(OpAccept, err)
		}
		peer, _ := addr.FromSockaddr(sa)
		c := FromFD(fd, s.domain, s.typ, s.proto, peer)
		c.local = s.local
		c.readSize = s.readSize
		c.log = s.log
		return c, nil
	}
}
