package protocol

import (
	"encoding/binary"

	"github.com/nikandfor/errors"
)

// DefaultThreshold 以上的负载才压缩
const DefaultThreshold = 512

var ErrCorrupt = errors.New("protocol: corrupt frame")

// Encoder 把负载编码为帧
type Encoder struct {
	Threshold int // <=0 表示从不压缩单帧
}

func NewEncoder(threshold int) *Encoder { return &Encoder{Threshold: threshold} }

// AppendFrame 追加一个单负载帧
func (e *Encoder) AppendFrame(dst, payload []byte) ([]byte, error) {
	if e.Threshold > 0 && len(payload) >= e.Threshold {
		body := compress(nil, payload)
		if len(body) < len(payload) {
			dst, err := AppendHeader(dst, Header{Len: len(body), Compressed: true})
			if err != nil {
				return dst, err
			}
			return append(dst, body...), nil
		}
	}
	dst, err := AppendHeader(dst, Header{Len: len(payload)})
	if err != nil {
		return dst, err
	}
	return append(dst, payload...), nil
}

// AppendBatch 把多个负载压缩进一个帧：
// 压缩前为 uvarint(count) 后接 count 个 uvarint(len)+payload
func (e *Encoder) AppendBatch(dst []byte, payloads [][]byte) ([]byte, error) {
	size := binary.MaxVarintLen64
	for _, p := range payloads {
		size += binary.MaxVarintLen64 + len(p)
	}
	pre := make([]byte, 0, size)
	pre = binary.AppendUvarint(pre, uint64(len(payloads)))
	for _, p := range payloads {
		pre = binary.AppendUvarint(pre, uint64(len(p)))
		pre = append(pre, p...)
	}
	body := compress(nil, pre)
	dst, err := AppendHeader(dst, Header{Len: len(body), Batched: true})
	if err != nil {
		return dst, err
	}
	return append(dst, body...), nil
}

// Parser 从字节流中切出完整帧
type Parser struct {
	MaxLen int // 单帧体积上限，同时限制解压后的大小；<=0 取 MaxFrameLen
}

// Parse 解析 buf 中全部完整帧，对每个负载调用 fn；返回已消费字节数。
// 残缺的尾帧留给下一次调用。
func (p *Parser) Parse(buf []byte, fn func(payload []byte) error) (int, error) {
	limit := p.MaxLen
	if limit <= 0 {
		limit = MaxFrameLen
	}
	i := 0
	for {
		h, n, err := ParseHeader(buf[i:])
		if err == ErrShortHeader {
			return i, nil
		}
		if err != nil {
			return i, err
		}
		if h.Len > limit {
			return i, ErrFrameTooLong
		}
		if len(buf[i+n:]) < h.Len {
			return i, nil
		}
		body := buf[i+n : i+n+h.Len]
		i += n + h.Len

		if !h.Compressed {
			if err := fn(body); err != nil {
				return i, err
			}
			continue
		}
		raw, err := decompress(body, limit)
		if err == ErrFrameTooLong {
			return i, err
		}
		if err != nil {
			return i, errors.Wrap(err, "decompress")
		}
		if !h.Batched {
			if err := fn(raw); err != nil {
				return i, err
			}
			continue
		}
		if err := splitBatch(raw, fn); err != nil {
			return i, err
		}
	}
}

func splitBatch(raw []byte, fn func([]byte) error) error {
	count, n := binary.Uvarint(raw)
	if n <= 0 {
		return ErrCorrupt
	}
	raw = raw[n:]
	for j := uint64(0); j < count; j++ {
		ln, n := binary.Uvarint(raw)
		if n <= 0 || uint64(len(raw)-n) < ln {
			return ErrCorrupt
		}
		if err := fn(raw[n : n+int(ln)]); err != nil {
			return err
		}
		raw = raw[n+int(ln):]
	}
	return nil
}
