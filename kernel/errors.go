package kernel

import (
	"strconv"

	"github.com/nikandfor/errors"
)

var (
	ErrReactor = errors.New("kernel: reactor")
	ErrClosed  = errors.New("kernel: closed")
	// ErrNotRegistered 描述符不属于任何 reactor
	ErrNotRegistered = errors.New("kernel: not registered")
)

// ReactorError 为增删事件兴趣失败；errors.Is(err, ErrReactor) 成立
type ReactorError struct {
	Op  string
	FD  int
	Err error
}

func (e *ReactorError) Error() string {
	return "kernel: " + e.Op + " fd " + strconv.Itoa(e.FD) + ": " + e.Err.Error()
}

func (e *ReactorError) Unwrap() error { return e.Err }

func (e *ReactorError) Is(target error) bool { return target == ErrReactor }
