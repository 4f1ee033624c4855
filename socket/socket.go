// Package socket 封装单个文件描述符：bind/listen/accept/connect/send/recv。
// Socket 独占其描述符，描述符只会被关闭一次。
package socket

import (
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/projectSX0/spartanX/addr"
	"github.com/projectSX0/spartanX/internal/netutil"
)

// DefaultReadSize 为 Recv 未指定大小时的单次读取块
const DefaultReadSize = 16 << 10

type Socket struct {
	fd       int
	domain   addr.Domain
	typ      int
	proto    int
	local    addr.SocketAddress
	peer     addr.SocketAddress
	readSize int
	closed   atomic.Bool
	// nonblock 缓存 O_NONBLOCK，只经 SetBlocking 修改
	nonblock atomic.Bool
	log      *zap.Logger
}

// New 创建一个新的阻塞模式套接字
func New(domain addr.Domain, typ, proto int) (*Socket, error) {
	if domain != addr.Inet && domain != addr.Inet6 && domain != addr.Unix {
		return nil, wrap(OpSocket, addr.ErrUnsupportedDomain)
	}
	fd, err := unix.Socket(domain.Family(), typ, proto)
	if err != nil {
		return nil, wrap(OpSocket, err)
	}
	unix.CloseOnExec(fd)
	return FromFD(fd, domain, typ, proto, addr.SocketAddress{}), nil
}

// FromFD 接管一个已有描述符（例如 accept 的结果），阻塞模式在此读取一次
func FromFD(fd int, domain addr.Domain, typ, proto int, peer addr.SocketAddress) *Socket {
	s := &Socket{
		fd:       fd,
		domain:   domain,
		typ:      typ,
		proto:    proto,
		peer:     peer,
		readSize: DefaultReadSize,
		log:      zap.NewNop(),
	}
	if nb, err := netutil.IsNonblock(fd); err == nil {
		s.nonblock.Store(nb)
	}
	return s
}

// OpenListener 创建、绑定并监听，失败时关闭描述符
func OpenListener(a addr.SocketAddress, typ, backlog int, reusePort bool) (*Socket, error) {
	s, err := New(a.Domain(), typ, 0)
	if err != nil {
		return nil, err
	}
	if reusePort && a.Domain() != addr.Unix {
		if err := netutil.SetReusePort(s.fd, true); err != nil {
			s.Close()
			return nil, wrap(OpSetsockopt, err)
		}
	}
	if err := s.Bind(a); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Listen(backlog); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Socket) FD() int { return s.fd }
func (s *Socket) Domain() addr.Domain { return s.domain }
func (s *Socket) Type() int { return s.typ }
func (s *Socket) Protocol() int { return s.proto }
func (s *Socket) LocalAddr() addr.SocketAddress { return s.local }
func (s *Socket) PeerAddr() addr.SocketAddress { return s.peer }
func (s *Socket) Closed() bool { return s.closed.Load() }
func (s *Socket) ReadSize() int { return s.readSize }
func (s *Socket) SetLogger(l *zap.Logger) { s.log = l }
func (s *Socket) isStream() bool { return s.typ == unix.SOCK_STREAM || s.typ == unix.SOCK_SEQPACKET }
func (s *Socket) logger() *zap.Logger { return s.log.With(zap.Int("fd", s.fd)) }

// SetReadSize 设置非阻塞读取时每块的大小
func (s *Socket) SetReadSize(n int) {
	if n > 0 {
		s.readSize = n
	}
}

// Bind 先设置 SO_REUSEADDR 再绑定；绑定后记录实际本地地址（含临时端口）
func (s *Socket) Bind(a addr.SocketAddress) error {
	if err := netutil.SetReuseAddr(s.fd, true); err != nil {
		return wrap(OpSetsockopt, err)
	}
	sa, err := a.Sockaddr()
	if err != nil {
		return wrap(OpBind, err)
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return wrap(OpBind, err)
	}
	s.local = a
	if got, err := unix.Getsockname(s.fd); err == nil {
		if la, err := addr.FromSockaddr(got); err == nil && !la.IsZero() {
			s.local = la
		}
	}
	return nil
}

func (s *Socket) Listen(backlog int) error {
	return wrap(OpListen, unix.Listen(s.fd, backlog))
}

// Connect 仅用于流式套接字
func (s *Socket) Connect(a addr.SocketAddress) error {
	if !s.isStream() {
		return ErrUnconnectable
	}
	sa, err := a.Sockaddr()
	if err != nil {
		return wrap(OpConnect, err)
	}
	for {
		err = unix.Connect(s.fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return wrap(OpConnect, err)
	}
	s.peer = a
	if got, err := unix.Getsockname(s.fd); err == nil {
		if la, err := addr.FromSockaddr(got); err == nil {
			s.local = la
		}
	}
	return nil
}

// Send 执行一次发送，返回已写入字节数；非阻塞下可能部分写入或返回 EAGAIN
func (s *Socket) Send(b []byte, flags int) (int, error) {
	for {
		n, err := unix.SendmsgN(s.fd, b, nil, nil, flags)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, wrap(OpSend, err)
		}
		return n, nil
	}
}

// SendAll 在阻塞模式下写完全部数据
func (s *Socket) SendAll(b []byte, flags int) error {
	for len(b) > 0 {
		n, err := s.Send(b, flags)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Recv 按当前阻塞模式读取。对端有序关闭时返回 (nil, io.EOF)。
func (s *Socket) Recv(max, flags int) ([]byte, error) {
	if max <= 0 {
		max = s.readSize
	}
	if s.IsBlocking() {
		return s.recvBlock(max, flags)
	}
	return s.recvNonblock(max, flags)
}

// recvBlock 只发起一次系统调用
func (s *Socket) recvBlock(max, flags int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := s.RecvInto(buf, flags)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// RecvInto 单次读取到 b，不区分阻塞模式；对端关闭返回 (0, io.EOF)
func (s *Socket) RecvInto(b []byte, flags int) (int, error) {
	for {
		n, _, err := unix.Recvfrom(s.fd, b, flags)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, wrap(OpRecv, err)
		}
		if n == 0 && len(b) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// recvNonblock 按块读取直到 EAGAIN。
// 读到 EOF 时：之前已读到数据则返回这些数据（EOF 留给下一次读取），否则返回 (nil, io.EOF)。
// 系统调用出错时连同已读数据一并返回。
func (s *Socket) recvNonblock(chunk, flags int) ([]byte, error) {
	buf := make([]byte, chunk)
	var out []byte
	for {
		n, _, err := unix.Recvfrom(s.fd, buf, flags)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return out, nil
			}
			return out, wrap(OpRecv, err)
		}
		if n == 0 {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		out = append(out, buf[:n]...)
	}
}

func (s *Socket) SetBlocking(block bool) error {
	if err := netutil.SetNonblock(s.fd, !block); err != nil {
		return err
	}
	s.nonblock.Store(!block)
	return nil
}

// IsBlocking 返回缓存的模式，不发起系统调用
func (s *Socket) IsBlocking() bool { return !s.nonblock.Load() }

// SetRecvTimeout 限定阻塞读取的最长等待时间
func (s *Socket) SetRecvTimeout(d time.Duration) error {
	return wrap(OpSetsockopt, netutil.SetRecvTimeout(s.fd, d))
}

func (s *Socket) SetSendTimeout(d time.Duration) error {
	return wrap(OpSetsockopt, netutil.SetSendTimeout(s.fd, d))
}

func (s *Socket) SetNoDelay(enable bool) error {
	if s.domain == addr.Unix {
		return nil
	}
	return wrap(OpSetsockopt, netutil.SetNoDelay(s.fd, enable))
}

// Available 返回内核中待读取的字节数
func (s *Socket) Available() int {
	n, err := netutil.Available(s.fd)
	if err != nil {
		return 0
	}
	return n
}

// Close 只关闭一次；重复调用返回 ErrClosed 而不触碰系统。
// close(2) 自身的失败只记录日志。
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := unix.Close(s.fd); err != nil {
		s.logger().Warn("socket: close failed", zap.Error(err))
	}
	return nil
}
