package conn

import (
	"github.com/projectSX0/spartanX/internal/ring"
	"github.com/projectSX0/spartanX/protocol"
)

// FramedIO 在另一个 IO 之上收发 protocol 帧。
// 读到的残缺帧留在环形缓冲中等待后续数据。
type FramedIO struct {
	inner  IO
	enc    *protocol.Encoder
	parser protocol.Parser
	in     *ring.Buffer
	limit  int
}

// NewFramedIO threshold 以上的负载压缩；maxFrame 限制单帧大小
func NewFramedIO(inner IO, threshold, maxFrame int) *FramedIO {
	if maxFrame <= 0 {
		maxFrame = protocol.MaxFrameLen
	}
	return &FramedIO{
		inner:  inner,
		enc:    protocol.NewEncoder(threshold),
		parser: protocol.Parser{MaxLen: maxFrame},
		in:     ring.New(4<<10, maxFrame+4),
		limit:  maxFrame + 4,
	}
}

// ReadFrames 返回本次读取后所有完整帧的负载。
// 数据按缓冲剩余空间分块送入解析器，缓冲中最多只留一个残缺帧。
func (f *FramedIO) ReadFrames(max int) ([][]byte, error) {
	data, err := f.inner.Read(max)
	if len(data) == 0 {
		return nil, err
	}
	var frames [][]byte
	emit := func(p []byte) error {
		frames = append(frames, append([]byte(nil), p...))
		return nil
	}
	for len(data) > 0 {
		room := f.limit - f.in.Len()
		if room <= 0 {
			// 头部合法时缓冲满必然含完整帧，走到这里说明数据有误
			return frames, ring.ErrTooLarge
		}
		if room > len(data) {
			room = len(data)
		}
		if _, werr := f.in.Write(data[:room]); werr != nil {
			return frames, werr
		}
		data = data[room:]
		n, perr := f.parser.Parse(f.in.Peek(f.in.Len()), emit)
		f.in.Discard(n)
		if perr != nil {
			return frames, perr
		}
	}
	return frames, err
}

// Read 返回全部完整帧负载的拼接
func (f *FramedIO) Read(max int) ([]byte, error) {
	frames, err := f.ReadFrames(max)
	var out []byte
	for _, p := range frames {
		out = append(out, p...)
	}
	return out, err
}

func (f *FramedIO) Write(p []byte) error {
	frame, err := f.enc.AppendFrame(nil, p)
	if err != nil {
		return err
	}
	return f.inner.Write(frame)
}

// WriteBatch 把多个负载合成一个压缩帧
func (f *FramedIO) WriteBatch(ps [][]byte) error {
	frame, err := f.enc.AppendBatch(nil, ps)
	if err != nil {
		return err
	}
	return f.inner.Write(frame)
}

func (f *FramedIO) Flush() (bool, error) { return f.inner.Flush() }

func (f *FramedIO) Pending() bool { return f.inner.Pending() }

func (f *FramedIO) Close() error { return f.inner.Close() }

func (f *FramedIO) Prefetched() bool {
	p, ok := f.inner.(prefetcher)
	return ok && p.Prefetched()
}
