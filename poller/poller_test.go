//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	unix.SetNonblock(fds[0], true)
	t.Cleanup(func() { unix.Close(fds[0]); unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func waitEvents(t *testing.T, p Poller) []Event {
	t.Helper()
	type result struct {
		evs []Event
		err error
	}
	ch := make(chan result, 1)
	go func() {
		evs := make([]Event, 16)
		for {
			n, err := p.Wait(evs)
			if err != nil || n > 0 {
				ch <- result{evs[:n], err}
				return
			}
		}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatal(r.err)
		}
		return r.evs
	case <-time.After(2 * time.Second):
		p.Wake()
		t.Fatal("no event")
	}
	return nil
}

func TestReadReadiness(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	a, b := newPair(t)

	if err := p.Add(a, Read, 0); err != nil {
		t.Fatal(err)
	}
	unix.Write(b, []byte("abc"))
	evs := waitEvents(t, p)
	if len(evs) != 1 || evs[0].FD != a || evs[0].Filter != Read || evs[0].Data != 3 {
		t.Fatalf("unexpected events %+v", evs)
	}

	// 水平触发：未读取的数据会再次报告
	evs = waitEvents(t, p)
	if len(evs) != 1 || evs[0].Filter != Read {
		t.Fatalf("level-triggered re-report missing: %+v", evs)
	}

	unix.Shutdown(b, unix.SHUT_WR)
	evs = waitEvents(t, p)
	if len(evs) != 1 || !evs[0].EOF {
		t.Fatalf("want EOF event, got %+v", evs)
	}
}

func TestWriteFilterAddRemove(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	a, _ := newPair(t)

	if err := p.Add(a, Read, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.Add(a, Write, 0); err != nil {
		t.Fatal(err)
	}
	evs := waitEvents(t, p)
	if len(evs) != 1 || evs[0].Filter != Write {
		t.Fatalf("want writable, got %+v", evs)
	}

	if err := p.Remove(a, Write); err != nil {
		t.Fatal(err)
	}
	if err := p.Remove(a, Write); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if err := p.Remove(a, Read); err != nil {
		t.Fatal(err)
	}

	done := make(chan int, 1)
	go func() {
		evs := make([]Event, 4)
		n, _ := p.Wait(evs)
		done <- n
	}()
	time.Sleep(20 * time.Millisecond)
	p.Wake()
	select {
	case n := <-done:
		if n != 0 {
			t.Fatalf("removed fd still reported: %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wake did not interrupt wait")
	}
}

func TestFilterString(t *testing.T) {
	if Read.String() != "read" || (Read|Write).String() != "read|write" || Filter(32).String() != "filter(32)" {
		t.Fatal("filter names")
	}
}
