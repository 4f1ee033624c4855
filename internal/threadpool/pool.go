// Package threadpool 是固定数量 worker 的任务池：一把锁、一个条件变量、一个 FIFO。
package threadpool

import (
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"github.com/nikandfor/errors"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("threadpool: closed")

type Task func()

type Pool struct {
	log *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	closing bool
	wg      sync.WaitGroup
}

// New 启动 n 个 worker；n<=0 时取 CPU 数
func New(n int, log *zap.Logger) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{log: log, tasks: queue.New()}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker(i)
	}
	return p
}

// Submit 入队并唤醒一个空闲 worker
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return ErrClosed
	}
	p.tasks.Add(t)
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Pending 返回尚未开始执行的任务数
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Length()
}

// Close 拒绝新任务，执行完已入队的任务后返回
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closing = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.tasks.Length() == 0 && !p.closing {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 {
			p.mu.Unlock()
			return
		}
		t := p.tasks.Remove().(Task)
		p.mu.Unlock()
		p.run(id, t)
	}
}

func (p *Pool) run(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("threadpool: task panic", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()
	t()
}
