package socket

import (
	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"
)

// Op 标识失败的套接字操作
type Op string

const (
	OpSocket     Op = "socket"
	OpBind       Op = "bind"
	OpListen     Op = "listen"
	OpAccept     Op = "accept"
	OpConnect    Op = "connect"
	OpSend       Op = "send"
	OpRecv       Op = "recv"
	OpSetsockopt Op = "setsockopt"
)

var (
	ErrSocket     = errors.New("socket: socket")
	ErrBind       = errors.New("socket: bind")
	ErrListen     = errors.New("socket: listen")
	ErrAccept     = errors.New("socket: accept")
	ErrConnect    = errors.New("socket: connect")
	ErrSend       = errors.New("socket: send")
	ErrRecv       = errors.New("socket: recv")
	ErrSetsockopt = errors.New("socket: setsockopt")

	// ErrUnconnectable 非流式套接字不支持 connect
	ErrUnconnectable = errors.New("socket: unconnectable")
	// ErrClosed 重复关闭或在已关闭的套接字上操作
	ErrClosed = errors.New("socket: already closed")
)

var opSentinel = map[Op]error{
	OpSocket:     ErrSocket,
	OpBind:       ErrBind,
	OpListen:     ErrListen,
	OpAccept:     ErrAccept,
	OpConnect:    ErrConnect,
	OpSend:       ErrSend,
	OpRecv:       ErrRecv,
	OpSetsockopt: ErrSetsockopt,
}

// Error 包装系统调用错误；errors.Is(err, ErrBind) 之类按 Op 匹配，
// errors.Is(err, unix.EAGAIN) 之类按底层 errno 匹配
type Error struct {
	Op  Op
	Err error
}

func (e *Error) Error() string { return "socket: " + string(e.Op) + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return opSentinel[e.Op] == target }

func wrap(op Op, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// IsWouldBlock 判断是否为 EAGAIN/EWOULDBLOCK
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
