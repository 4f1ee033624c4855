//go:build linux

package poller

import (
	"sync"
	"sync/atomic"

	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"
)

type epollPoller struct {
	efd    int
	wfd    int // eventfd for wakeup
	closed atomic.Bool

	mu    sync.Mutex
	masks map[int]Filter
	raw   []unix.EpollEvent
}

func New() (Poller, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create")
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, errors.Wrap(err, "eventfd")
	}
	p := &epollPoller{efd: efd, wfd: wfd, masks: make(map[int]Filter)}
	// 注册 wakeup fd
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wfd)}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, errors.Wrap(err, "epoll_ctl wakeup")
	}
	return p, nil
}

func epollBits(m Filter) uint32 {
	var flag uint32
	if m&(Read|Vnode) != 0 {
		flag |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if m&Write != 0 {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func (p *epollPoller) Add(fd FD, f Filter, _ uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.masks[fd]
	next := old | f
	if next == old {
		return nil
	}
	op := unix.EPOLL_CTL_MOD
	if old == 0 {
		op = unix.EPOLL_CTL_ADD
	}
	ev := &unix.EpollEvent{Events: epollBits(next), Fd: int32(fd)}
	if err := unix.EpollCtl(p.efd, op, fd, ev); err != nil {
		return errors.Wrap(err, "epoll_ctl add")
	}
	p.masks[fd] = next
	return nil
}

func (p *epollPoller) Remove(fd FD, f Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, ok := p.masks[fd]
	if !ok {
		return nil
	}
	next := old &^ f
	if next == old {
		return nil
	}
	if next == 0 {
		delete(p.masks, fd)
		if err := unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			return errors.Wrap(err, "epoll_ctl del")
		}
		return nil
	}
	ev := &unix.EpollEvent{Events: epollBits(next), Fd: int32(fd)}
	if err := unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return errors.Wrap(err, "epoll_ctl mod")
	}
	p.masks[fd] = next
	return nil
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wfd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	unix.Close(p.wfd)
	return unix.Close(p.efd)
}

// Wait 每个原始事件最多展开为两个 Event（读 + 写）
func (p *epollPoller) Wait(events []Event) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	max := len(events) / 2
	if max == 0 {
		max = 1
	}
	if cap(p.raw) < max {
		p.raw = make([]unix.EpollEvent, max)
	}
	raw := p.raw[:max]
	n, err := unix.EpollWait(p.efd, raw, -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		if p.closed.Load() {
			return 0, ErrClosed
		}
		return 0, errors.Wrap(err, "epoll_wait")
	}
	out := 0
	var efdBuf [8]byte
	for i := 0; i < n && out < len(events); i++ {
		ev := raw[i]
		fd := int(ev.Fd)
		if fd == p.wfd {
			// 清空 eventfd
			for {
				if _, rerr := unix.Read(p.wfd, efdBuf[:]); rerr != nil {
					break
				}
			}
			continue
		}
		p.mu.Lock()
		mask := p.masks[fd]
		p.mu.Unlock()

		hup := ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0
		var evErr error
		if ev.Events&unix.EPOLLERR != 0 {
			evErr = sockError(fd)
		}
		readable := ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0

		switch {
		case mask&Vnode != 0 && readable:
			events[out] = Event{FD: fd, Filter: Vnode, Data: available(fd)}
			out++
		case mask&Read != 0 && readable:
			events[out] = Event{FD: fd, Filter: Read, Data: available(fd), EOF: hup, Err: evErr}
			out++
		}
		if mask&Write != 0 && out < len(events) &&
			ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			events[out] = Event{FD: fd, Filter: Write, EOF: ev.Events&unix.EPOLLHUP != 0, Err: evErr}
			out++
		}
	}
	return out, nil
}

func available(fd int) int64 {
	n, err := unix.IoctlGetInt(fd, unix.TIOCINQ)
	if err != nil {
		return 0
	}
	return int64(n)
}

func sockError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || v == 0 {
		return nil
	}
	return unix.Errno(v)
}
