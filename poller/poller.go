// Package poller 抽象平台的就绪通知原语（epoll / kqueue）。
// 所有后端均为水平触发：未读完的数据会在下一次 Wait 中再次报告。
package poller

import (
	"strconv"

	"github.com/nikandfor/errors"
)

// FD 表示文件描述符。
type FD = int

// Filter 表示关注的事件类别，可按位组合。
type Filter uint8

const (
	Read Filter = 1 << iota
	Write
	Vnode
)

func (f Filter) String() string {
	switch f {
	case Read:
		return "read"
	case Write:
		return "write"
	case Vnode:
		return "vnode"
	case Read | Write:
		return "read|write"
	}
	return "filter(" + strconv.Itoa(int(f)) + ")"
}

// FileEvents 为文件监控关心的变化（对应 kqueue 的 NOTE_* / inotify 的 IN_*）。
type FileEvents uint32

const (
	FileDelete FileEvents = 1 << iota
	FileWrite
	FileExtend
	FileAttrib
	FileLink
	FileRename
	FileRevoke

	FileAll = FileDelete | FileWrite | FileExtend | FileAttrib | FileLink | FileRename | FileRevoke
)

// Event 是一次就绪通知。
// Read 事件的 Data 为可读字节数提示；Vnode 事件在 kqueue 下为触发的 fflags。
type Event struct {
	FD     FD
	Filter Filter
	Data   int64
	EOF    bool
	Err    error
}

// Handler 是 reactor 分发事件的目标。
// Runloop 在 reactor 的系统线程上同步调用，要求不阻塞。
type Handler interface {
	Ident() FD
	Runloop(ev Event)
}

// Poller 提供兴趣注册与阻塞等待。
// Add/Remove 可在任意 goroutine 调用；Wait 只应由一个 goroutine 调用。
type Poller interface {
	// Add 为 fd 增加一个过滤器；fflags 仅对 Vnode 有意义。
	Add(fd FD, f Filter, fflags uint32) error
	// Remove 移除 fd 的一个过滤器，未注册时不报错。
	Remove(fd FD, f Filter) error
	// Wait 无超时阻塞，直到有事件或被 Wake 唤醒；被唤醒时可能返回 0。
	Wait(events []Event) (int, error)
	Wake() error
	Close() error
}

var (
	ErrPlatformNotSupported = errors.New("poller: platform not supported")
	ErrClosed               = errors.New("poller: closed")
)
