package kernel

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/projectSX0/spartanX/poller"
)

const maxEvents = 256

type entry struct {
	h       poller.Handler
	filters poller.Filter
}

// Reactor 独占一个系统线程，阻塞等待并同步分发事件。
// 注册表为空时工作线程退出，下一次注册时重新启动。
type Reactor struct {
	id  int
	p   poller.Poller
	log *zap.Logger

	mu       sync.Mutex
	registry map[int]*entry
	load     int
	active   bool
	closed   bool
	wg       sync.WaitGroup
}

func newReactor(id int, log *zap.Logger) (*Reactor, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		id:       id,
		p:        p,
		log:      log.With(zap.Int("reactor", id)),
		registry: make(map[int]*entry),
	}, nil
}

func (r *Reactor) ID() int { return r.id }

// Load 为注册中的不同描述符数量
func (r *Reactor) Load() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load
}

// Active 报告工作线程是否在运行
func (r *Reactor) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Reactor) Register(h poller.Handler, f poller.Filter) error {
	return r.register(h, f, 0)
}

func (r *Reactor) register(h poller.Handler, f poller.Filter, fflags uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	fd := h.Ident()
	if err := r.p.Add(fd, f, fflags); err != nil {
		r.log.Error("kernel: add interest", zap.Int("fd", fd), zap.Stringer("filter", f), zap.Error(err))
		return &ReactorError{Op: "add", FD: fd, Err: err}
	}
	if e, ok := r.registry[fd]; ok {
		e.h = h
		e.filters |= f
	} else {
		r.registry[fd] = &entry{h: h, filters: f}
		r.load++
	}
	if !r.active {
		r.active = true
		r.wg.Add(1)
		go r.run()
	}
	return nil
}

// Remove 移除 fd 的过滤器；gone 表示 fd 已完全离开注册表
func (r *Reactor) Remove(fd int, f poller.Filter) (gone bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.registry[fd]
	if !ok {
		return true, nil
	}
	if perr := r.p.Remove(fd, f); perr != nil {
		r.log.Warn("kernel: remove interest", zap.Int("fd", fd), zap.Stringer("filter", f), zap.Error(perr))
		err = &ReactorError{Op: "remove", FD: fd, Err: perr}
	}
	e.filters &^= f
	if e.filters != 0 {
		return false, err
	}
	delete(r.registry, fd)
	r.load--
	if len(r.registry) == 0 && r.active {
		if werr := r.p.Wake(); werr != nil {
			r.log.Warn("kernel: wake", zap.Error(werr))
		}
	}
	return true, err
}

func (r *Reactor) lookup(ev poller.Event) poller.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.registry[ev.FD]
	if !ok || e.filters&ev.Filter == 0 {
		return nil
	}
	return e.h
}

func (r *Reactor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer r.wg.Done()

	r.log.Debug("kernel: reactor started")
	events := make([]poller.Event, maxEvents)
	for {
		r.mu.Lock()
		if len(r.registry) == 0 || r.closed {
			r.active = false
			r.mu.Unlock()
			r.log.Debug("kernel: reactor idle")
			return
		}
		r.mu.Unlock()

		n, err := r.p.Wait(events)
		if err != nil {
			r.log.Error("kernel: wait", zap.Error(err))
			r.mu.Lock()
			r.active = false
			r.mu.Unlock()
			return
		}
		for i := 0; i < n; i++ {
			if h := r.lookup(events[i]); h != nil {
				r.dispatch(h, events[i])
			}
		}
	}
}

func (r *Reactor) dispatch(h poller.Handler, ev poller.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("kernel: handler panic", zap.Int("fd", ev.FD), zap.Any("panic", p))
		}
	}()
	h.Runloop(ev)
}

// Close 停止工作线程并释放 poller；注册中的处理器不会被关闭。
// 不能在 reactor 线程内调用。
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	r.mu.Unlock()
	r.p.Wake()
	r.wg.Wait()
	return r.p.Close()
}
