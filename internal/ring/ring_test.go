package ring

import (
	"bytes"
	"errors"
	"testing"
)

func TestWrapAround(t *testing.T) {
	b := New(8, 0)
	b.Write([]byte("abcdef"))
	b.Discard(4)
	b.Write([]byte("ghijk"))
	if b.Cap() != 8 {
		t.Fatalf("unexpected growth to %d", b.Cap())
	}
	if got := b.Peek(b.Len()); string(got) != "efghijk" {
		t.Fatalf("got %q", got)
	}
}

func TestGrowKeepsOrder(t *testing.T) {
	b := New(4, 0)
	b.Write([]byte("xyz"))
	b.Discard(2)
	payload := bytes.Repeat([]byte("0123456789"), 5)
	if _, err := b.Write(payload); err != nil {
		t.Fatal(err)
	}
	if b.Cap() != 64 {
		t.Fatalf("cap %d", b.Cap())
	}
	want := append([]byte("z"), payload...)
	if got := b.Peek(b.Len()); !bytes.Equal(got, want) {
		t.Fatalf("got %q", got)
	}
}

func TestLimit(t *testing.T) {
	b := New(4, 16)
	if _, err := b.Write(make([]byte, 17)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
	if b.Len() != 0 {
		t.Fatal("partial write after rejection")
	}
	if _, err := b.Write(make([]byte, 16)); err != nil {
		t.Fatal(err)
	}
}

func TestDiscardResets(t *testing.T) {
	b := New(8, 0)
	b.Write([]byte("abc"))
	if n := b.Discard(10); n != 3 || b.Len() != 0 {
		t.Fatalf("discard %d len %d", n, b.Len())
	}
	b.Write([]byte("12345678"))
	if string(b.Peek(8)) != "12345678" {
		t.Fatal("reset position lost")
	}
}

func TestWrapAroundPastMidpoint(t *testing.T) {
	b := New(16, 0)
	b.Write(bytes.Repeat([]byte("x"), 12))
	b.Discard(11)
	// 起点 12，写入 10 字节跨越末尾
	if _, err := b.Write([]byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if b.Cap() != 16 {
		t.Fatalf("unexpected growth to %d", b.Cap())
	}
	if got := b.Peek(b.Len()); string(got) != "x0123456789" {
		t.Fatalf("got %q", got)
	}
	b.Discard(5)
	if got := b.Peek(b.Len()); string(got) != "456789" {
		t.Fatalf("after discard %q", got)
	}
}
