//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package socket

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/projectSX0/spartanX/addr"
)

// Accept 接受一个连接并设置为非阻塞、close-on-exec。
// 监听套接字非阻塞且队列为空时返回的错误满足 IsWouldBlock。
func (s *Socket) Accept() (*Socket, error) {
	for {
		syscall.ForkLock.RLock()
		fd, sa, err := unix.Accept(s.fd)
		if err == nil {
			unix.CloseOnExec(fd)
		}
		syscall.ForkLock.RUnlock()
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			return nil, wrap(OpAccept, err)
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			return nil, wrap(OpSetsockopt, err)
		}
		peer, _ := addr.FromSockaddr(sa)
		c := FromFD(fd, s.domain, s.typ, s.proto, peer)
		c.local = s.local
		c.readSize = s.readSize
		c.log = s.log
		return c, nil
	}
}
