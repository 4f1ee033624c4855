// Package kernel 管理固定数量的 reactor，并把描述符分配给负载最低的一个。
package kernel

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/projectSX0/spartanX/poller"
)

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

type Manager struct {
	log      *zap.Logger
	reactors []*Reactor

	mu    sync.Mutex
	owner map[int]int
}

// NewManager 创建 n 个 reactor；n<=0 时取 CPU 数
func NewManager(n int, opts ...Option) (*Manager, error) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	m := &Manager{log: zap.NewNop(), owner: make(map[int]int)}
	for _, o := range opts {
		o(m)
	}
	for i := 0; i < n; i++ {
		r, err := newReactor(i, m.log)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.reactors = append(m.reactors, r)
	}
	return m, nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reactors)
}

// Loads 返回每个 reactor 的负载快照
func (m *Manager) Loads() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.reactors))
	for i, r := range m.reactors {
		out[i] = r.Load()
	}
	return out
}

// Owner 返回 fd 所在的 reactor 下标
func (m *Manager) Owner(fd int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.owner[fd]
	return idx, ok
}

// leastBusy 负载相同时取下标最小者
func (m *Manager) leastBusy() int {
	best, bestLoad := 0, -1
	for i, r := range m.reactors {
		l := r.Load()
		if bestLoad < 0 || l < bestLoad {
			best, bestLoad = i, l
		}
	}
	return best
}

// Register 将处理器登记到负载最低的 reactor；已登记的描述符留在原 reactor
func (m *Manager) Register(h poller.Handler, f poller.Filter) error {
	return m.register(h, f, 0)
}

func (m *Manager) register(h poller.Handler, f poller.Filter, fflags uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reactors) == 0 {
		return ErrClosed
	}
	fd := h.Ident()
	idx, ok := m.owner[fd]
	if !ok {
		idx = m.leastBusy()
	}
	if err := m.reactors[idx].register(h, f, fflags); err != nil {
		return err
	}
	if !ok {
		m.owner[fd] = idx
		m.log.Debug("kernel: registered", zap.Int("fd", fd), zap.Int("reactor", idx), zap.Stringer("filter", f))
	}
	return nil
}

func (m *Manager) Unregister(fd int, f poller.Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.owner[fd]
	if !ok {
		return ErrNotRegistered
	}
	gone, err := m.reactors[idx].Remove(fd, f)
	if gone {
		delete(m.owner, fd)
	}
	return err
}

// Close 停止全部 reactor；不能在 reactor 线程内调用
func (m *Manager) Close() error {
	m.mu.Lock()
	rs := m.reactors
	m.reactors = nil
	m.owner = make(map[int]int)
	m.mu.Unlock()
	for _, r := range rs {
		if err := r.Close(); err != nil {
			m.log.Warn("kernel: close reactor", zap.Int("reactor", r.ID()), zap.Error(err))
		}
	}
	return nil
}
