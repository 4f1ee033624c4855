// Package protocol 定义 framed 连接使用的帧格式：长度头 + 可选 zstd 压缩体。
package protocol

import (
	"encoding/binary"

	"github.com/nikandfor/errors"
)

// 头部编码（大端）：
// 短头 2B：bit15 Compressed，bit14 Batched，bit13 Ext=0，bit12..0 长度
// 长头 4B：bit31 Compressed，bit30 Batched，bit29 Ext=1，bit28..0 长度
// Batched 隐含 Compressed。长度不含头部。

const (
	ShortHeaderMax = (1 << 13) - 1
	MaxFrameLen    = (1 << 29) - 1
)

var (
	ErrShortHeader  = errors.New("protocol: header too short")
	ErrFrameTooLong = errors.New("protocol: frame too long")
)

type Header struct {
	Len        int
	Compressed bool
	Batched    bool
}

// Size 为头部编码后的字节数
func (h Header) Size() int {
	if h.Len <= ShortHeaderMax {
		return 2
	}
	return 4
}

// AppendHeader 把头部追加到 dst
func AppendHeader(dst []byte, h Header) ([]byte, error) {
	if h.Len < 0 || h.Len > MaxFrameLen {
		return dst, ErrFrameTooLong
	}
	if h.Batched {
		h.Compressed = true
	}
	if h.Len <= ShortHeaderMax {
		v := uint16(h.Len)
		if h.Compressed {
			v |= 1 << 15
		}
		if h.Batched {
			v |= 1 << 14
		}
		return binary.BigEndian.AppendUint16(dst, v), nil
	}
	v := uint32(h.Len) | 1<<29
	if h.Compressed {
		v |= 1 << 31
	}
	if h.Batched {
		v |= 1 << 30
	}
	return binary.BigEndian.AppendUint32(dst, v), nil
}

// ParseHeader 解析头部并返回消费的字节数；数据不足时返回 ErrShortHeader
func ParseHeader(b []byte) (Header, int, error) {
	if len(b) < 2 {
		return Header{}, 0, ErrShortHeader
	}
	v16 := binary.BigEndian.Uint16(b)
	if v16&(1<<13) == 0 {
		return Header{
			Len:        int(v16 & 0x1FFF),
			Compressed: v16&(1<<15) != 0,
			Batched:    v16&(1<<14) != 0,
		}, 2, nil
	}
	if len(b) < 4 {
		return Header{}, 0, ErrShortHeader
	}
	v32 := binary.BigEndian.Uint32(b)
	return Header{
		Len:        int(v32 & 0x1FFFFFFF),
		Compressed: v32&(1<<31) != 0,
		Batched:    v32&(1<<30) != 0,
	}, 4, nil
}
