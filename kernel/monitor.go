package kernel

import (
	"sync"

	"go.uber.org/zap"

	"github.com/projectSX0/spartanX/poller"
)

// FileCallback 收到变化时调用，返回 true 表示停止监控
type FileCallback func(path string, ev poller.FileEvents) (stop bool)

type monitor struct {
	m      *Manager
	fd     int
	path   string
	events poller.FileEvents
	cb     FileCallback
	once   sync.Once
}

func (w *monitor) Ident() int { return w.fd }

func (w *monitor) Runloop(ev poller.Event) {
	got := w.collect(ev) & w.events
	if got == 0 {
		return
	}
	w.m.log.Debug("kernel: file event", zap.String("path", w.path), zap.Uint32("events", uint32(got)))
	if w.cb(w.path, got) {
		w.Close()
	}
}

// Close 撤销监控并关闭描述符，可重复调用
func (w *monitor) Close() error {
	w.once.Do(func() {
		if err := w.m.Unregister(w.fd, poller.Vnode); err != nil && err != ErrNotRegistered {
			w.m.log.Warn("kernel: unregister monitor", zap.String("path", w.path), zap.Error(err))
		}
		w.closeFD()
	})
	return nil
}
