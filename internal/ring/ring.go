// Package ring 提供按需扩容的环形字节缓冲，容量始终为 2 的幂。
// 不做并发保护，由持有者所在的 reactor 线程独占使用。
package ring

import "github.com/nikandfor/errors"

var ErrTooLarge = errors.New("ring: exceeds limit")

type Buffer struct {
	buf      []byte
	mask     int
	readPos  int
	writePos int
	limit    int
}

func roundPow2(n int) int {
	c := 1
	for c < n {
		c <<= 1
	}
	return c
}

// New 返回初始容量为 capacity（向上取 2 的幂）的缓冲；limit<=0 表示不限上限
func New(capacity, limit int) *Buffer {
	c := roundPow2(capacity)
	return &Buffer{buf: make([]byte, c), mask: c - 1, limit: limit}
}

func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) Len() int { return b.writePos - b.readPos }

func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// grow 把现有数据搬到更大的底层数组，读指针归零
func (b *Buffer) grow(need int) error {
	if b.limit > 0 && need > b.limit {
		return ErrTooLarge
	}
	c := roundPow2(need)
	nb := make([]byte, c)
	n := b.Len()
	copy(nb, b.Peek(n))
	b.buf, b.mask = nb, c-1
	b.readPos, b.writePos = 0, n
	return nil
}

// Write 写入全部数据，空间不足时扩容；超过上限返回 ErrTooLarge 且不写入
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		if err := b.grow(b.Len() + len(p)); err != nil {
			return 0, err
		}
	}
	n := len(p)
	start := b.writePos & b.mask
	end := start + n
	if end <= len(b.buf) {
		copy(b.buf[start:end], p)
	} else {
		l := len(b.buf) - start
		copy(b.buf[start:], p[:l])
		copy(b.buf[:n-l], p[l:])
	}
	b.writePos += n
	return n, nil
}

// Peek 读取最多 n 字节但不前进读指针；跨越边界时返回拷贝
func (b *Buffer) Peek(n int) []byte {
	if n <= 0 {
		return nil
	}
	if ln := b.Len(); n > ln {
		n = ln
	}
	start := b.readPos & b.mask
	end := start + n
	if end <= len(b.buf) {
		return b.buf[start:end]
	}
	out := make([]byte, n)
	l := len(b.buf) - start
	copy(out[:l], b.buf[start:])
	copy(out[l:], b.buf[:n-l])
	return out
}

func (b *Buffer) Discard(n int) int {
	if ln := b.Len(); n > ln {
		n = ln
	}
	b.readPos += n
	if b.readPos == b.writePos {
		b.readPos, b.writePos = 0, 0
	}
	return n
}

func (b *Buffer) Reset() { b.readPos, b.writePos = 0, 0 }
