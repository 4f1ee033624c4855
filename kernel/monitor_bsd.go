//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package kernel

import (
	"io"

	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"

	"github.com/projectSX0/spartanX/poller"
)

var noteBits = [...]struct {
	ev   poller.FileEvents
	note uint32
}{
	{poller.FileDelete, unix.NOTE_DELETE},
	{poller.FileWrite, unix.NOTE_WRITE},
	{poller.FileExtend, unix.NOTE_EXTEND},
	{poller.FileAttrib, unix.NOTE_ATTRIB},
	{poller.FileLink, unix.NOTE_LINK},
	{poller.FileRename, unix.NOTE_RENAME},
	{poller.FileRevoke, unix.NOTE_REVOKE},
}

func noteFlags(ev poller.FileEvents) uint32 {
	var f uint32
	for _, b := range noteBits {
		if ev&b.ev != 0 {
			f |= b.note
		}
	}
	return f
}

func fromNote(f uint32) poller.FileEvents {
	var ev poller.FileEvents
	for _, b := range noteBits {
		if f&b.note != 0 {
			ev |= b.ev
		}
	}
	return ev
}

// Monitor 通过 EVFILT_VNODE 监控单个文件
func (m *Manager) Monitor(path string, events poller.FileEvents, cb FileCallback) (io.Closer, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	w := &monitor{m: m, fd: fd, path: path, events: events, cb: cb}
	if err := m.register(w, poller.Vnode, noteFlags(events)); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return w, nil
}

func (w *monitor) collect(ev poller.Event) poller.FileEvents { return fromNote(uint32(ev.Data)) }

func (w *monitor) closeFD() { unix.Close(w.fd) }
