package protocol

import (
	"bytes"

	"github.com/nikandfor/errors"
)

var ErrSegmentTooLong = errors.New("protocol: segment too long")

// Segmenter 按分隔符切分字节流，用于行式等以定界符结尾的协议
type Segmenter struct {
	Sep    []byte
	MaxLen int // 未遇到分隔符时允许缓存的最大长度，<=0 不限
}

// Parse 对 buf 中每个以 Sep 结尾的段调用 fn（不含分隔符），返回已消费字节数。
// 没有分隔符的尾部留给下一次调用。
func (s *Segmenter) Parse(buf []byte, fn func(seg []byte) error) (int, error) {
	if len(s.Sep) == 0 {
		return 0, errors.New("protocol: empty separator")
	}
	i := 0
	for {
		j := bytes.Index(buf[i:], s.Sep)
		if j < 0 {
			if s.MaxLen > 0 && len(buf)-i > s.MaxLen {
				return i, ErrSegmentTooLong
			}
			return i, nil
		}
		if s.MaxLen > 0 && j > s.MaxLen {
			return i, ErrSegmentTooLong
		}
		seg := buf[i : i+j]
		i += j + len(s.Sep)
		if err := fn(seg); err != nil {
			return i, err
		}
	}
}

// Segment 返回以 sep 分隔的第 n 段（从 0 计），只计以 sep 结尾的完整段
func Segment(buf, sep []byte, n int) ([]byte, bool) {
	if len(sep) == 0 || n < 0 {
		return nil, false
	}
	for {
		j := bytes.Index(buf, sep)
		if j < 0 {
			return nil, false
		}
		if n == 0 {
			return buf[:j], true
		}
		buf = buf[j+len(sep):]
		n--
	}
}
