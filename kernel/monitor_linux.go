//go:build linux

package kernel

import (
	"io"
	"unsafe"

	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"

	"github.com/projectSX0/spartanX/poller"
)

func inotifyMask(ev poller.FileEvents) uint32 {
	var mask uint32
	if ev&poller.FileDelete != 0 {
		mask |= unix.IN_DELETE_SELF
	}
	if ev&(poller.FileWrite|poller.FileExtend) != 0 {
		mask |= unix.IN_MODIFY
	}
	if ev&(poller.FileAttrib|poller.FileLink) != 0 {
		mask |= unix.IN_ATTRIB
	}
	if ev&poller.FileRename != 0 {
		mask |= unix.IN_MOVE_SELF
	}
	if ev&poller.FileRevoke != 0 {
		mask |= unix.IN_UNMOUNT
	}
	return mask
}

func fromInotify(mask uint32) poller.FileEvents {
	var ev poller.FileEvents
	if mask&unix.IN_DELETE_SELF != 0 {
		ev |= poller.FileDelete
	}
	if mask&unix.IN_MODIFY != 0 {
		ev |= poller.FileWrite | poller.FileExtend
	}
	if mask&unix.IN_ATTRIB != 0 {
		ev |= poller.FileAttrib | poller.FileLink
	}
	if mask&unix.IN_MOVE_SELF != 0 {
		ev |= poller.FileRename
	}
	if mask&unix.IN_UNMOUNT != 0 {
		ev |= poller.FileRevoke
	}
	return ev
}

// Monitor 通过 inotify 监控单个文件
func (m *Manager) Monitor(path string, events poller.FileEvents, cb FileCallback) (io.Closer, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "inotify_init")
	}
	if _, err := unix.InotifyAddWatch(fd, path, inotifyMask(events)); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "inotify_add_watch")
	}
	w := &monitor{m: m, fd: fd, path: path, events: events, cb: cb}
	if err := m.register(w, poller.Vnode, 0); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return w, nil
}

// collect 读空 inotify 描述符并合并事件
func (w *monitor) collect(poller.Event) poller.FileEvents {
	var buf [4096]byte
	var ev poller.FileEvents
	for {
		n, err := unix.Read(w.fd, buf[:])
		if err != nil || n <= 0 {
			return ev
		}
		for off := 0; off+unix.SizeofInotifyEvent <= n; {
			ie := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
			ev |= fromInotify(ie.Mask)
			off += unix.SizeofInotifyEvent + int(ie.Len)
		}
	}
}

func (w *monitor) closeFD() { unix.Close(w.fd) }
