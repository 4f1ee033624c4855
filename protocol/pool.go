package protocol

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1))
		return enc
	}}
	// 按解压上限分组的解码器池，key 为 int
	decoderPools sync.Map
)

func decoderPool(limit int) *sync.Pool {
	if p, ok := decoderPools.Load(limit); ok {
		return p.(*sync.Pool)
	}
	p, _ := decoderPools.LoadOrStore(limit, &sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(limit)))
		return dec
	}})
	return p.(*sync.Pool)
}

func compress(dst, src []byte) []byte {
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	return enc.EncodeAll(src, dst)
}

// decompress 解压后的体积不超过 limit；帧头声明的大小超限时不做解码
func decompress(src []byte, limit int) ([]byte, error) {
	var h zstd.Header
	if err := h.Decode(src); err != nil {
		return nil, err
	}
	if h.HasFCS && h.FrameContentSize > uint64(limit) {
		return nil, ErrFrameTooLong
	}
	dec := decoderPool(limit).Get().(*zstd.Decoder)
	defer decoderPool(limit).Put(dec)
	out, err := dec.DecodeAll(src, nil)
	if err == zstd.ErrDecoderSizeExceeded {
		return nil, ErrFrameTooLong
	}
	return out, err
}
