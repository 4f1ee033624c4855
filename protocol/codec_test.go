package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func collect(t *testing.T, p *Parser, buf []byte) ([][]byte, int) {
	t.Helper()
	var out [][]byte
	n, err := p.Parse(buf, func(b []byte) error {
		out = append(out, append([]byte(nil), b...))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out, n
}

func TestHeaderBoundaries(t *testing.T) {
	for _, l := range []int{0, ShortHeaderMax, ShortHeaderMax + 1, MaxFrameLen} {
		hdr, err := AppendHeader(nil, Header{Len: l, Batched: l == 0})
		if err != nil {
			t.Fatal(err)
		}
		h, n, err := ParseHeader(hdr)
		if err != nil || n != len(hdr) || h.Len != l {
			t.Fatalf("len %d: got %+v n=%d err=%v", l, h, n, err)
		}
		if l == 0 && !(h.Batched && h.Compressed) {
			t.Fatal("batched must imply compressed")
		}
	}
	if _, err := AppendHeader(nil, Header{Len: MaxFrameLen + 1}); !errors.Is(err, ErrFrameTooLong) {
		t.Fatalf("want ErrFrameTooLong, got %v", err)
	}
	long, _ := AppendHeader(nil, Header{Len: ShortHeaderMax + 1})
	if _, _, err := ParseHeader(long[:3]); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("truncated long header: %v", err)
	}
}

func TestFramesAndPartialTail(t *testing.T) {
	e := NewEncoder(64)
	small := []byte("hello")
	big := bytes.Repeat([]byte("spartanx "), 100)
	buf, _ := e.AppendFrame(nil, small)
	buf, _ = e.AppendFrame(buf, big)
	full := len(buf)
	buf, _ = e.AppendFrame(buf, []byte("tail frame"))

	var p Parser
	got, n := collect(t, &p, buf[:len(buf)-3])
	if n != full || len(got) != 2 {
		t.Fatalf("consumed %d of %d, frames %d", n, full, len(got))
	}
	if !bytes.Equal(got[0], small) || !bytes.Equal(got[1], big) {
		t.Fatal("payload mismatch")
	}
	if h, _, _ := ParseHeader(buf[len(small)+2:]); !h.Compressed {
		t.Fatal("large payload not compressed")
	}

	got, n = collect(t, &p, buf[full:])
	if n != len(buf)-full || len(got) != 1 || string(got[0]) != "tail frame" {
		t.Fatalf("tail: %q", got)
	}
}

func TestBatch(t *testing.T) {
	var e Encoder
	items := [][]byte{[]byte("a"), nil, []byte("ccc")}
	buf, err := e.AppendBatch(nil, items)
	if err != nil {
		t.Fatal(err)
	}
	got, n := collect(t, &Parser{}, buf)
	if n != len(buf) || len(got) != 3 || string(got[0]) != "a" || len(got[1]) != 0 || string(got[2]) != "ccc" {
		t.Fatalf("batch: %q", got)
	}
}

func TestParserLimit(t *testing.T) {
	var e Encoder
	buf, _ := e.AppendFrame(nil, make([]byte, 100))
	p := Parser{MaxLen: 10}
	if _, err := p.Parse(buf, func([]byte) error { return nil }); !errors.Is(err, ErrFrameTooLong) {
		t.Fatalf("want ErrFrameTooLong, got %v", err)
	}
}

func TestParserLimitAppliesAfterDecompression(t *testing.T) {
	e := Encoder{Threshold: 1}
	zeros := make([]byte, 64<<10)
	buf, err := e.AppendFrame(nil, zeros)
	if err != nil {
		t.Fatal(err)
	}
	if h, _, _ := ParseHeader(buf); !h.Compressed || h.Len >= 1024 {
		t.Fatalf("header %+v", h)
	}

	small := Parser{MaxLen: 1024}
	if _, err := small.Parse(buf, func([]byte) error { return nil }); !errors.Is(err, ErrFrameTooLong) {
		t.Fatalf("want ErrFrameTooLong, got %v", err)
	}

	batch, err := e.AppendBatch(nil, [][]byte{zeros[:800], zeros[:800]})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := small.Parse(batch, func([]byte) error { return nil }); !errors.Is(err, ErrFrameTooLong) {
		t.Fatalf("batch: want ErrFrameTooLong, got %v", err)
	}

	got, n := collect(t, &Parser{MaxLen: len(zeros)}, buf)
	if n != len(buf) || len(got) != 1 || len(got[0]) != len(zeros) {
		t.Fatalf("consumed %d of %d, frames %d", n, len(buf), len(got))
	}
}

func TestSegmenter(t *testing.T) {
	s := Segmenter{Sep: []byte("\r\n"), MaxLen: 8}
	var got []string
	buf := []byte("GET\r\n\r\nHost: x\r\npart")
	n, err := s.Parse(buf, func(seg []byte) error {
		got = append(got, string(seg))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "GET" || got[1] != "" || got[2] != "Host: x" {
		t.Fatalf("segments %q", got)
	}
	if string(buf[n:]) != "part" {
		t.Fatalf("left %q", buf[n:])
	}

	if _, err := s.Parse([]byte("no separator here"), func([]byte) error { return nil }); !errors.Is(err, ErrSegmentTooLong) {
		t.Fatalf("want ErrSegmentTooLong, got %v", err)
	}

	if seg, ok := Segment([]byte("a,bb,ccc,"), []byte(","), 2); !ok || string(seg) != "ccc" {
		t.Fatalf("segment %q %v", seg, ok)
	}
	if _, ok := Segment([]byte("a,bb"), []byte(","), 1); ok {
		t.Fatal("unterminated segment returned")
	}
}
