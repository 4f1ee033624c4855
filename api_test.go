//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package spartanx

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/projectSX0/spartanX/conn"
	"github.com/projectSX0/spartanX/server"
)

type sink chan []byte

func (s sink) Received(_ *conn.Connection, data []byte) (bool, error) {
	s <- append([]byte(nil), data...)
	return true, nil
}

func (s sink) ExceptionRaised(*conn.Connection, error) bool { return false }

func TestRuntimeListenAndDial(t *testing.T) {
	rt, err := New(Config{Reactors: 2, Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := server.DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	echo := conn.ServiceFunc(func(c *conn.Connection, data []byte) (bool, error) {
		return true, c.Write(data)
	})
	srv, err := rt.Listen(ctx, cfg, echo, nil)
	if err != nil {
		t.Fatal(err)
	}

	got := make(sink, 4)
	c, err := rt.Dial(ctx, "tcp", "127.0.0.1", strconv.Itoa(int(srv.Addr().Port())), got)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Write([]byte("round trip")); err != nil {
		t.Fatal(err)
	}
	var buf []byte
	for len(buf) < len("round trip") {
		select {
		case b := <-got:
			buf = append(buf, b...)
		case <-ctx.Done():
			t.Fatalf("got %q", buf)
		}
	}
	if string(buf) != "round trip" {
		t.Fatalf("got %q", buf)
	}
	if n := len(rt.Manager().Loads()); n != 2 {
		t.Fatalf("reactors = %d", n)
	}

	c.Close()
	if err := rt.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if srv.Status() != conn.Idle {
		t.Fatalf("server status = %v", srv.Status())
	}
	if _, err := rt.Listen(ctx, cfg, echo, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("listen after close: %v", err)
	}
	if err := rt.Close(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close: %v", err)
	}
}
