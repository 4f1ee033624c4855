// Package server 在 reactor 上监听并接纳连接。
// 监听套接字本身也是一个 poller.Handler：可读时在 reactor 线程上 accept 到 EAGAIN 为止。
package server

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nikandfor/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/projectSX0/spartanX/addr"
	"github.com/projectSX0/spartanX/conn"
	"github.com/projectSX0/spartanX/internal/threadpool"
	"github.com/projectSX0/spartanX/poller"
	"github.com/projectSX0/spartanX/socket"
)

type Server struct {
	cfg      Config
	reg      conn.Registrar
	svc      conn.Service
	delegate Delegate
	pool     *threadpool.Pool
	log      *zap.Logger

	status atomic.Int32

	// mu 串行化 accept 与 Start/Stop/Suspend/Resume
	mu    sync.Mutex
	lsock *socket.Socket
	local addr.SocketAddress
	tw    *timerWheel

	connMu      sync.Mutex
	conns       map[int]*conn.Connection
	handshaking int
	drained     chan struct{}
}

// New 创建服务器；pool 为空时 TLS 握手在独立 goroutine 中进行
func New(cfg Config, reg conn.Registrar, svc conn.Service, delegate Delegate, pool *threadpool.Pool) (*Server, error) {
	if reg == nil || svc == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.normalize(); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	return &Server{
		cfg:      cfg,
		reg:      reg,
		svc:      svc,
		delegate: delegate,
		pool:     pool,
		log:      cfg.Logger.With(zap.String("server", cfg.Network+"://"+cfg.Address)),
		conns:    make(map[int]*conn.Connection),
	}, nil
}

func (s *Server) Status() conn.Status { return conn.Status(s.status.Load()) }

// Addr 返回实际绑定的地址（含临时端口）
func (s *Server) Addr() addr.SocketAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Guests 为在线连接数，包括握手中的
func (s *Server) Guests() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns) + s.handshaking
}

func (s *Server) Config() Config { return s.cfg }

// Ident 为监听描述符
func (s *Server) Ident() int {
	if s.lsock == nil {
		return -1
	}
	return s.lsock.FD()
}

func (s *Server) setStatus(st conn.Status) {
	if conn.Status(s.status.Swap(int32(st))) == st {
		return
	}
	s.log.Debug("server: status", zap.Stringer("status", st))
	if o, ok := s.delegate.(StatusObserver); ok {
		o.ServerDidChangeStatus(s, st)
	}
}

// Start 绑定并监听，随后登记到 reactor；绑定或监听失败直接返回
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lsock != nil {
		return ErrAlreadyStarted
	}
	la, err := s.cfg.listenAddr(ctx)
	if err != nil {
		return errors.Wrap(err, "resolve listen address")
	}
	ls, err := socket.OpenListener(la, unix.SOCK_STREAM, s.cfg.Backlog, s.cfg.ReusePort)
	if err != nil {
		return err
	}
	ls.SetLogger(s.log)
	ls.SetReadSize(s.cfg.ReadSize)
	if err := ls.SetBlocking(false); err != nil {
		ls.Close()
		return err
	}
	s.lsock = ls
	s.local = ls.LocalAddr()
	s.connMu.Lock()
	s.drained = make(chan struct{})
	s.connMu.Unlock()

	s.setStatus(conn.Running)
	if err := s.reg.Register(s, poller.Read); err != nil {
		s.setStatus(conn.Idle)
		ls.Close()
		s.lsock = nil
		return err
	}
	if s.cfg.IdleTimeout > 0 {
		s.tw = newTimerWheel(s.cfg.IdleTimeout / 4)
		go s.tw.run(s.reapIdle)
	}
	s.log.Info("server: listening", zap.Stringer("addr", s.local))
	if o, ok := s.delegate.(StartObserver); ok {
		o.ServerDidStart(s)
	}
	return nil
}

// Runloop 监听套接字可读：接纳全部排队的连接
func (s *Server) Runloop(ev poller.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lsock == nil || s.Status() != conn.Running {
		return
	}
	for {
		sock, err := s.lsock.Accept()
		if err != nil {
			if socket.IsWouldBlock(err) {
				return
			}
			s.log.Warn("server: accept", zap.Error(err))
			s.svc.ExceptionRaised(nil, err)
			return
		}
		s.admit(sock)
	}
}

func (s *Server) admit(sock *socket.Socket) {
	if s.cfg.MaxGuest > 0 && s.Guests() >= s.cfg.MaxGuest {
		s.log.Debug("server: guest limit reached", zap.Stringer("peer", sock.PeerAddr()))
		sock.Close()
		return
	}
	if g, ok := s.delegate.(Gate); ok && !g.ShouldConnect(s, sock) {
		s.log.Debug("server: connection vetoed", zap.Stringer("peer", sock.PeerAddr()))
		sock.Close()
		return
	}
	sock.SetReadSize(s.cfg.ReadSize)
	sock.SetNoDelay(true)

	if s.cfg.TLS == nil {
		s.attach(sock, conn.NewPlainIO(sock), false)
		return
	}

	s.connMu.Lock()
	s.handshaking++
	s.connMu.Unlock()
	task := func() { s.handshake(sock) }
	if s.pool == nil {
		go task()
		return
	}
	if err := s.pool.Submit(task); err != nil {
		s.log.Warn("server: submit handshake", zap.Error(err))
		s.connMu.Lock()
		s.handshaking--
		s.connMu.Unlock()
		sock.Close()
	}
}

func (s *Server) handshake(sock *socket.Socket) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
	defer cancel()
	tio, err := conn.Handshake(ctx, sock, s.cfg.TLS, true, s.cfg.HandshakeTimeout)
	if err != nil {
		s.log.Debug("server: handshake failed", zap.Stringer("peer", sock.PeerAddr()), zap.Error(err))
		s.connMu.Lock()
		s.handshaking--
		s.connMu.Unlock()
		sock.Close()
		return
	}
	s.attach(sock, tio, true)
}

// attach 建立连接并登记；handshook 表示连接从握手计数转入 conns，两者在同一临界区内交接
func (s *Server) attach(sock *socket.Socket, rw conn.IO, handshook bool) {
	if s.cfg.Framed {
		rw = conn.NewFramedIO(rw, s.cfg.FrameThreshold, s.cfg.MaxFrame)
	}
	opts := []conn.Option{
		conn.WithOwner(s),
		conn.WithReadSize(s.cfg.ReadSize),
		conn.WithLogger(s.log),
		conn.WithOnDone(s.forget),
	}
	if o, ok := s.delegate.(ConnectObserver); ok {
		opts = append(opts, conn.WithOnStart(func(c *conn.Connection) { o.ConnectionDidConnect(s, c) }))
	}
	if o, ok := s.delegate.(conn.Observer); ok {
		opts = append(opts, conn.WithObserver(o))
	}
	c := conn.New(sock, rw, s.svc, s.reg, opts...)

	s.connMu.Lock()
	if handshook {
		s.handshaking--
	}
	if s.Status() == conn.Idle {
		s.connMu.Unlock()
		rw.Close()
		return
	}
	s.conns[c.Ident()] = c
	s.connMu.Unlock()

	if err := c.Start(); err != nil {
		c.Close()
	}
}

func (s *Server) forget(c *conn.Connection) {
	s.connMu.Lock()
	if s.conns[c.Ident()] == c {
		delete(s.conns, c.Ident())
	}
	if len(s.conns) == 0 && s.Status() == conn.Idle && s.drained != nil {
		select {
		case <-s.drained:
		default:
			close(s.drained)
		}
	}
	s.connMu.Unlock()

	if o, ok := s.delegate.(DisconnectObserver); ok {
		o.ConnectionDidDisconnect(s, c)
	}
}

// Connections 返回在线连接的快照
func (s *Server) Connections() []*conn.Connection {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	out := make([]*conn.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Suspend 暂停 accept；已有连接在下一次分发时继承挂起状态
func (s *Server) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status() != conn.Running {
		return ErrNotRunning
	}
	s.setStatus(conn.Suspended)
	return s.reg.Unregister(s.Ident(), poller.Read)
}

func (s *Server) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status() != conn.Suspended {
		return ErrNotRunning
	}
	s.setStatus(conn.Running)
	return s.reg.Register(s, poller.Read)
}

// Stop 关闭监听并关闭所有连接，等待连接终止流程完成或 ctx 结束。
// 不能在 accept 路径的回调（Gate）内调用。
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.lsock == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	ko, _ := s.delegate.(KillObserver)
	if ko != nil {
		ko.ServerWillKill(s)
	}
	if s.Status() == conn.Running {
		if err := s.reg.Unregister(s.Ident(), poller.Read); err != nil {
			s.log.Warn("server: unregister listener", zap.Error(err))
		}
	}
	s.lsock.Close()
	if s.cfg.Network == "unix" {
		unix.Unlink(s.cfg.Address)
	}
	s.lsock = nil
	if s.tw != nil {
		s.tw.stop()
		s.tw = nil
	}
	s.setStatus(conn.Idle)
	s.connMu.Lock()
	drained := s.drained
	s.connMu.Unlock()
	s.mu.Unlock()

	if ko != nil {
		ko.ServerDidKill(s)
	}

	live := s.Connections()
	for _, c := range live {
		c.Close()
	}
	if len(live) == 0 {
		return nil
	}
	s.connMu.Lock()
	empty := len(s.conns) == 0
	s.connMu.Unlock()
	if empty {
		return nil
	}
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reapIdle 关闭超过 IdleTimeout 未活动的连接
func (s *Server) reapIdle() {
	deadline := time.Now().Add(-s.cfg.IdleTimeout)
	for _, c := range s.Connections() {
		if c.LastActive().Before(deadline) {
			s.log.Debug("server: idle timeout", zap.Stringer("peer", c.PeerAddr()))
			c.Close()
		}
	}
}

// TLSConfig 返回生效的 TLS 配置，未启用时为空
func (s *Server) TLSConfig() *tls.Config { return s.cfg.TLS }
