// Package spartanx 把 reactor 池、线程池以及服务器/客户端组装成一个运行时句柄。
// 没有全局单例：每个 Runtime 拥有自己的 kernel.Manager 与线程池。
package spartanx

import (
	"context"
	"io"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/projectSX0/spartanX/client"
	"github.com/projectSX0/spartanX/conn"
	"github.com/projectSX0/spartanX/internal/threadpool"
	"github.com/projectSX0/spartanX/kernel"
	"github.com/projectSX0/spartanX/poller"
	"github.com/projectSX0/spartanX/server"
)

// Config 为运行时配置
type Config struct {
	Reactors int // reactor 数量，即事件循环线程数
	Workers  int // 线程池大小，用于 TLS 握手等阻塞任务
	Logger   *zap.Logger
}

// DefaultConfig 提供一组可工作的默认值
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Reactors: n,
		Workers:  n,
	}
}

type Runtime struct {
	mgr  *kernel.Manager
	pool *threadpool.Pool
	log  *zap.Logger

	mu      sync.Mutex
	servers []*server.Server
	closed  bool
}

func New(cfg Config) (*Runtime, error) {
	d := DefaultConfig()
	if cfg.Reactors <= 0 {
		cfg.Reactors = d.Reactors
	}
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	mgr, err := kernel.NewManager(cfg.Reactors, kernel.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}
	return &Runtime{
		mgr:  mgr,
		pool: threadpool.New(cfg.Workers, cfg.Logger),
		log:  cfg.Logger,
	}, nil
}

func (r *Runtime) Manager() *kernel.Manager { return r.mgr }

func (r *Runtime) Pool() *threadpool.Pool { return r.pool }

// Listen 创建并启动服务器；服务器随 Runtime 一起关闭
func (r *Runtime) Listen(ctx context.Context, cfg server.Config, svc conn.Service, delegate server.Delegate) (*server.Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if cfg.Logger == nil {
		cfg.Logger = r.log
	}
	s, err := server.New(cfg, r.mgr, svc, delegate, r.pool)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	r.servers = append(r.servers, s)
	return s, nil
}

// Dial 建立由本运行时驱动的主动连接
func (r *Runtime) Dial(ctx context.Context, network, host, service string, svc conn.Service, opts ...client.Option) (*conn.Connection, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	opts = append([]client.Option{client.WithLogger(r.log)}, opts...)
	if network == "unix" {
		return client.DialUnix(ctx, r.mgr, host, svc, opts...)
	}
	return client.Dial(ctx, r.mgr, network, host, service, svc, opts...)
}

// Monitor 监视文件变化，回调在 reactor 线程上执行
func (r *Runtime) Monitor(path string, events poller.FileEvents, cb kernel.FileCallback) (io.Closer, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	return r.mgr.Monitor(path, events, cb)
}

func (r *Runtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close 停止全部服务器，等待线程池排空，最后停止 reactor。
// ctx 限制等待连接终止的时间。
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	servers := r.servers
	r.servers = nil
	r.mu.Unlock()

	var first error
	for _, s := range servers {
		if err := s.Stop(ctx); err != nil && err != server.ErrNotRunning {
			r.log.Warn("spartanx: stop server", zap.Stringer("addr", s.Addr()), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	if err := r.pool.Close(); err != nil && first == nil {
		first = err
	}
	if err := r.mgr.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
