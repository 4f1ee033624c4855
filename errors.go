package spartanx

import "github.com/nikandfor/errors"

var (
	// ErrClosed 运行时已关闭
	ErrClosed = errors.New("spartanx: runtime closed")
)
