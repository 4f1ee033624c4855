package conn

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nikandfor/errors"

	"github.com/projectSX0/spartanX/addr"
	"github.com/projectSX0/spartanX/socket"
)

// errWouldBlock 对 tls 层表现为可重试的超时，读侧不会被永久标记为失败
type wouldBlock struct{}

func (wouldBlock) Error() string { return "conn: would block" }
func (wouldBlock) Timeout() bool { return true }
func (wouldBlock) Temporary() bool { return true }

var errWouldBlock error = wouldBlock{}

// IsTimeout 判断读取是否因无数据（非阻塞）或 SO_RCVTIMEO 到期而返回
func IsTimeout(err error) bool {
	return errors.Is(err, errWouldBlock) || socket.IsWouldBlock(err)
}

type netAddr struct{ a addr.SocketAddress }

func (n netAddr) Network() string {
	if n.a.Domain() == addr.Unix {
		return "unix"
	}
	return "tcp"
}

func (n netAddr) String() string { return n.a.String() }

// sockConn 把 Socket 适配为 net.Conn 供 crypto/tls 使用。
// 非阻塞下写不完的记录进入积压队列，Write 总是报告全部写入：tls 的写错误不可恢复。
type sockConn struct {
	sock *socket.Socket

	mu      sync.Mutex
	pending backlog
}

func (c *sockConn) Read(b []byte) (int, error) {
	n, err := c.sock.RecvInto(b, 0)
	if err != nil && socket.IsWouldBlock(err) {
		return 0, errWouldBlock
	}
	return n, err
}

func (c *sockConn) send(b []byte) (int, error) { return c.sock.Send(b, 0) }

func (c *sockConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := len(b)
	if c.pending.len() > 0 {
		c.pending.push(b)
		return total, nil
	}
	if c.sock.IsBlocking() {
		if err := c.sock.SendAll(b, 0); err != nil {
			return 0, err
		}
		return total, nil
	}
	for len(b) > 0 {
		n, err := c.send(b)
		if n > 0 {
			b = b[n:]
		}
		if err != nil {
			if socket.IsWouldBlock(err) {
				break
			}
			return total - len(b), err
		}
		if n == 0 {
			break
		}
	}
	c.pending.push(b)
	return total, nil
}

func (c *sockConn) flush() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.flush(c.send)
}

func (c *sockConn) hasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.len() > 0
}

func (c *sockConn) Close() error {
	if err := c.sock.Close(); err != nil && err != socket.ErrClosed {
		return err
	}
	return nil
}

func (c *sockConn) LocalAddr() net.Addr { return netAddr{c.sock.LocalAddr()} }
func (c *sockConn) RemoteAddr() net.Addr { return netAddr{c.sock.PeerAddr()} }

func (c *sockConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

// SetReadDeadline 以 SO_RCVTIMEO 近似，只对阻塞读取有效
func (c *sockConn) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return c.sock.SetRecvTimeout(0)
	}
	d := time.Until(t)
	if d <= 0 {
		d = time.Millisecond
	}
	return c.sock.SetRecvTimeout(d)
}

func (c *sockConn) SetWriteDeadline(time.Time) error { return nil }

// TLSIO 通过 crypto/tls 读写
type TLSIO struct {
	tc *tls.Conn
	sc *sockConn
}

// Handshake 在阻塞模式下完成握手，返回前把套接字切回非阻塞。
// timeout 限制每次读取的等待时间，0 表示不限。
func Handshake(ctx context.Context, s *socket.Socket, cfg *tls.Config, server bool, timeout time.Duration) (*TLSIO, error) {
	if err := s.SetBlocking(true); err != nil {
		return nil, err
	}
	if timeout > 0 {
		if err := s.SetRecvTimeout(timeout); err != nil {
			return nil, err
		}
	}
	sc := &sockConn{sock: s}
	var tc *tls.Conn
	if server {
		tc = tls.Server(sc, cfg)
	} else {
		tc = tls.Client(sc, cfg)
	}
	herr := tc.HandshakeContext(ctx)
	if timeout > 0 {
		s.SetRecvTimeout(0)
	}
	if err := s.SetBlocking(false); err != nil && herr == nil {
		herr = err
	}
	if herr != nil {
		return nil, errors.Wrap(herr, "tls handshake")
	}
	return &TLSIO{tc: tc, sc: sc}, nil
}

// ConnectionState 返回协商结果
func (t *TLSIO) ConnectionState() tls.ConnectionState { return t.tc.ConnectionState() }

// Read 解密直到套接字无数据可读
func (t *TLSIO) Read(max int) ([]byte, error) {
	if max <= 0 {
		max = socket.DefaultReadSize
	}
	buf := make([]byte, max)
	var out []byte
	for {
		n, err := t.tc.Read(buf)
		out = append(out, buf[:n]...)
		if err == nil {
			continue
		}
		if errors.Is(err, errWouldBlock) {
			return out, nil
		}
		if err == io.EOF {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		return out, err
	}
}

// ReadOnce 只读取一个记录，供阻塞模式的一次性请求使用
func (t *TLSIO) ReadOnce(max int) ([]byte, error) {
	if max <= 0 {
		max = socket.DefaultReadSize
	}
	buf := make([]byte, max)
	n, err := t.tc.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

// Prefetched 握手时 tls.Conn 可能已读入对端的首个应用数据记录，无法从外部查看，总是补读
func (t *TLSIO) Prefetched() bool { return true }

func (t *TLSIO) Write(p []byte) error {
	_, err := t.tc.Write(p)
	return err
}

func (t *TLSIO) Flush() (bool, error) { return t.sc.flush() }

func (t *TLSIO) Pending() bool { return t.sc.hasPending() }

// Close 发送 close_notify 后关闭套接字
func (t *TLSIO) Close() error {
	err := t.tc.Close()
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
