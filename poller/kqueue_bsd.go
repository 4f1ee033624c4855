//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"sync"
	"sync/atomic"

	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kq     int
	wfd    int // 写端，用于唤醒
	rfd    int // 读端，注册到 kqueue
	closed atomic.Bool

	mu  sync.Mutex
	raw []unix.Kevent_t
}

func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	unix.CloseOnExec(kq)
	// 使用管道作为唤醒
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(kq)
		return nil, errors.Wrap(err, "pipe")
	}
	rfd, wfd := p[0], p[1]
	for _, fd := range p {
		unix.CloseOnExec(fd)
		_ = unix.SetNonblock(fd, true)
	}
	var kev unix.Kevent_t
	unix.SetKevent(&kev, rfd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR)
	if _, err = unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, errors.Wrap(err, "kevent wakeup")
	}
	return &kqueuePoller{kq: kq, wfd: wfd, rfd: rfd}, nil
}

func kfilters(f Filter) []int {
	var out []int
	if f&Read != 0 {
		out = append(out, unix.EVFILT_READ)
	}
	if f&Write != 0 {
		out = append(out, unix.EVFILT_WRITE)
	}
	if f&Vnode != 0 {
		out = append(out, unix.EVFILT_VNODE)
	}
	return out
}

func (p *kqueuePoller) Add(fd FD, f Filter, fflags uint32) error {
	var changes []unix.Kevent_t
	for _, kf := range kfilters(f) {
		var kev unix.Kevent_t
		unix.SetKevent(&kev, fd, kf, unix.EV_ADD|unix.EV_ENABLE)
		if kf == unix.EVFILT_VNODE {
			kev.Fflags = fflags
		}
		changes = append(changes, kev)
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return errors.Wrap(err, "kevent add")
	}
	return nil
}

func (p *kqueuePoller) Remove(fd FD, f Filter) error {
	for _, kf := range kfilters(f) {
		var kev unix.Kevent_t
		unix.SetKevent(&kev, fd, kf, unix.EV_DELETE)
		_, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil)
		if err != nil && err != unix.ENOENT {
			return errors.Wrap(err, "kevent delete")
		}
	}
	return nil
}

func (p *kqueuePoller) Wake() error {
	var b [1]byte
	b[0] = 1
	_, err := unix.Write(p.wfd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueuePoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	unix.Close(p.rfd)
	unix.Close(p.wfd)
	return unix.Close(p.kq)
}

func (p *kqueuePoller) Wait(events []Event) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	p.mu.Lock()
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.Kevent_t, len(events))
	}
	raw := p.raw[:len(events)]
	p.mu.Unlock()

	n, err := unix.Kevent(p.kq, nil, raw, nil)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		if p.closed.Load() {
			return 0, ErrClosed
		}
		return 0, errors.Wrap(err, "kevent wait")
	}
	out := 0
	buf := make([]byte, 16)
	for i := 0; i < n; i++ {
		ev := raw[i]
		fd := int(ev.Ident)
		if fd == p.rfd {
			for {
				if _, rerr := unix.Read(p.rfd, buf); rerr != nil {
					break
				}
			}
			continue
		}
		e := Event{FD: fd, EOF: ev.Flags&unix.EV_EOF != 0}
		if ev.Flags&unix.EV_ERROR != 0 && ev.Data != 0 {
			e.Err = unix.Errno(ev.Data)
		}
		switch int(ev.Filter) {
		case unix.EVFILT_READ:
			e.Filter = Read
			e.Data = int64(ev.Data)
		case unix.EVFILT_WRITE:
			e.Filter = Write
			e.Data = int64(ev.Data)
		case unix.EVFILT_VNODE:
			e.Filter = Vnode
			e.Data = int64(ev.Fflags)
		default:
			continue
		}
		events[out] = e
		out++
	}
	return out, nil
}
