// Package conn 实现由 reactor 驱动的连接：每个就绪事件执行一次 Runloop，
// 读取数据交给 Service，并按状态机决定继续、挂起或终止。
package conn

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nikandfor/errors"
	"go.uber.org/zap"

	"github.com/projectSX0/spartanX/addr"
	"github.com/projectSX0/spartanX/poller"
	"github.com/projectSX0/spartanX/socket"
)

var ErrClosed = errors.New("conn: closed")

type frameReader interface {
	ReadFrames(max int) ([][]byte, error)
}

type batchWriter interface {
	WriteBatch(ps [][]byte) error
}

type Option func(*Connection)

// WithOwner 连接在每次分发时继承 owner 的状态
func WithOwner(o StatusSource) Option { return func(c *Connection) { c.owner = o } }

func WithObserver(o Observer) Option { return func(c *Connection) { c.observer = o } }

func WithReadSize(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.readSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.log = l
		}
	}
}

// WithOnStart 在读事件登记之后、首次补读之前调用
func WithOnStart(fn func(*Connection)) Option { return func(c *Connection) { c.onStart = fn } }

// WithOnDone 在连接终止流程的最后调用
func WithOnDone(fn func(*Connection)) Option { return func(c *Connection) { c.onDone = fn } }

type Connection struct {
	sock     *socket.Socket
	io       IO
	svc      Service
	reg      Registrar
	owner    StatusSource
	observer Observer
	readSize int
	log      *zap.Logger
	onStart  func(*Connection)
	onDone   func(*Connection)

	status     atomic.Int32
	lastActive atomic.Int64

	// 以下只在 runMu 内访问
	runMu             sync.Mutex
	suspendedNotified bool
	ownerSuspended    bool

	doneOnce sync.Once
	finished atomic.Bool

	writeMu    sync.Mutex
	writeArmed bool

	infoMu   sync.Mutex
	userInfo map[string]any
}

func New(sock *socket.Socket, rw IO, svc Service, reg Registrar, opts ...Option) *Connection {
	c := &Connection{
		sock:     sock,
		io:       rw,
		svc:      svc,
		reg:      reg,
		readSize: sock.ReadSize(),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(zap.Int("fd", sock.FD()))
	c.lastActive.Store(time.Now().UnixNano())
	return c
}

// Ident 即描述符
func (c *Connection) Ident() int { return c.sock.FD() }
func (c *Connection) Socket() *socket.Socket { return c.sock }
func (c *Connection) PeerAddr() addr.SocketAddress { return c.sock.PeerAddr() }
func (c *Connection) LocalAddr() addr.SocketAddress { return c.sock.LocalAddr() }
func (c *Connection) Status() Status { return Status(c.status.Load()) }
func (c *Connection) Closed() bool { return c.finished.Load() }

// LastActive 为最近一次收到数据的时间
func (c *Connection) LastActive() time.Time { return time.Unix(0, c.lastActive.Load()) }

// Start 通知 Accepter 后登记读事件。
// IO 在登记前可能已缓存输入（TLS 握手读入的首个记录），此时补做一次读取。
func (c *Connection) Start() error {
	if a, ok := c.svc.(Accepter); ok {
		a.Accepted(c)
	}
	if c.Status() == ShouldTerminate {
		c.Close()
		return ErrClosed
	}
	if err := c.reg.Register(c, poller.Read); err != nil {
		c.log.Warn("conn: register", zap.Error(err))
		return err
	}
	if c.onStart != nil {
		c.onStart(c)
	}
	if p, ok := c.io.(prefetcher); ok && p.Prefetched() {
		c.Runloop(poller.Event{FD: c.Ident(), Filter: poller.Read})
	}
	return nil
}

func (c *Connection) notify(s Status) {
	if s != Suspended && c.observer != nil {
		c.observer.ConnectionDidChangeStatus(c, s)
	}
}

// terminate 进入终态；ShouldTerminate 之后只会经 done 结束
func (c *Connection) terminate() {
	if Status(c.status.Swap(int32(ShouldTerminate))) != ShouldTerminate {
		c.notify(ShouldTerminate)
	}
}

// transition 仅当当前状态仍为 from 时切换，避免覆盖其它 goroutine 的终止请求
func (c *Connection) transition(from, to Status) bool {
	if from == to || !c.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.notify(to)
	return true
}

// Runloop 处理一个就绪事件，在 reactor 线程上调用
func (c *Connection) Runloop(ev poller.Event) {
	c.run(ev)

	// 与 Close 竞争时由后到者完成终止
	if c.Status() == ShouldTerminate && !c.finished.Load() && c.runMu.TryLock() {
		c.done()
		c.runMu.Unlock()
	}
}

// run 持有 runMu 执行一次 tick；回调中的 panic 报告给 Service 后终止连接
func (c *Connection) run(ev poller.Event) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		c.log.Error("conn: runloop panic", zap.Any("panic", p), zap.Stack("stack"))
		c.terminate()
		defer c.done()
		c.svc.ExceptionRaised(c, errors.New("conn: panic: %v", p))
	}()
	c.tick(ev)
}

func (c *Connection) tick(ev poller.Event) {
	if c.finished.Load() {
		return
	}
	if ev.Filter == poller.Write {
		c.flush()
		if c.Status() == ShouldTerminate {
			c.done()
		}
		return
	}

	c.inherit()
	c.transition(Idle, Running)

	switch c.Status() {
	case Resuming:
		c.suspendedNotified = false
		if c.transition(Resuming, Running) {
			c.handleData(ev)
		}
	case Running:
		c.handleData(ev)
	case Suspended:
		if !c.suspendedNotified {
			c.suspendedNotified = true
			if c.observer != nil {
				c.observer.ConnectionDidChangeStatus(c, Suspended)
			}
		}
		c.probe()
	}

	if c.Status() == ShouldTerminate {
		c.done()
	}
}

// inherit 按 owner 状态调整自身：owner 挂起则挂起，owner 停止（Idle）或终止则终止
func (c *Connection) inherit() {
	if c.owner == nil {
		return
	}
	cur := c.Status()
	if cur == ShouldTerminate {
		return
	}
	switch c.owner.Status() {
	case Suspended:
		if cur != Suspended && c.transition(cur, Suspended) {
			c.ownerSuspended = true
		}
	case Idle, ShouldTerminate:
		c.terminate()
	case Running, Resuming:
		if cur == Suspended && c.ownerSuspended && c.transition(Suspended, Resuming) {
			c.ownerSuspended = false
		}
	}
}

func (c *Connection) readSizeFor(ev poller.Event) int {
	if ev.Data > int64(c.readSize) {
		return int(ev.Data)
	}
	return c.readSize
}

func (c *Connection) handleData(ev poller.Event) {
	max := c.readSizeFor(ev)
	if fr, ok := c.io.(frameReader); ok {
		frames, err := fr.ReadFrames(max)
		for _, f := range frames {
			if !c.deliver(f) {
				return
			}
		}
		c.readDone(err)
		return
	}
	data, err := c.io.Read(max)
	if len(data) > 0 && !c.deliver(data) {
		return
	}
	c.readDone(err)
}

func (c *Connection) readDone(err error) {
	switch {
	case err == nil:
	case err == io.EOF:
		c.log.Debug("conn: peer closed")
		c.terminate()
	default:
		c.fail(err)
	}
}

func (c *Connection) deliver(data []byte) bool {
	c.lastActive.Store(time.Now().UnixNano())
	keep, err := c.svc.Received(c, data)
	if err != nil {
		keep = c.svc.ExceptionRaised(c, err)
	}
	if !keep {
		c.terminate()
		return false
	}
	return true
}

// fail 报告 I/O 错误后总是终止
func (c *Connection) fail(err error) {
	c.log.Debug("conn: io error", zap.Error(err))
	c.svc.ExceptionRaised(c, err)
	c.terminate()
}

// probe 挂起期间读取并丢弃数据，仅用于发现对端关闭
func (c *Connection) probe() {
	data, err := c.io.Read(c.readSize)
	if len(data) > 0 {
		c.log.Debug("conn: dropped while suspended", zap.Int("bytes", len(data)))
	}
	c.readDone(err)
}

func (c *Connection) flush() {
	c.writeMu.Lock()
	pending, err := c.io.Flush()
	if !pending && c.writeArmed {
		c.writeArmed = false
		if uerr := c.reg.Unregister(c.Ident(), poller.Write); uerr != nil {
			c.log.Warn("conn: unregister write", zap.Error(uerr))
		}
	}
	c.writeMu.Unlock()
	if err != nil {
		c.fail(err)
	}
}

// armLocked 有积压时登记写事件
func (c *Connection) armLocked() error {
	if c.writeArmed || !c.io.Pending() {
		return nil
	}
	if err := c.reg.Register(c, poller.Write); err != nil {
		return err
	}
	c.writeArmed = true
	return nil
}

// Write 可在任意 goroutine 调用；写不完的数据在套接字可写时继续发送
func (c *Connection) Write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.finished.Load() {
		return ErrClosed
	}
	if err := c.io.Write(p); err != nil {
		return err
	}
	return c.armLocked()
}

// WriteBatch 在 framed 连接上把多个负载合成一帧，其它连接逐个写入
func (c *Connection) WriteBatch(ps [][]byte) error {
	bw, ok := c.io.(batchWriter)
	if !ok {
		for _, p := range ps {
			if err := c.Write(p); err != nil {
				return err
			}
		}
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.finished.Load() {
		return ErrClosed
	}
	if err := bw.WriteBatch(ps); err != nil {
		return err
	}
	return c.armLocked()
}

// Suspend 停止向 Service 交付数据，挂起期间收到的数据被丢弃
func (c *Connection) Suspend() {
	for {
		cur := c.Status()
		if cur == Suspended || cur == ShouldTerminate {
			return
		}
		if c.status.CompareAndSwap(int32(cur), int32(Suspended)) {
			return
		}
	}
}

// Resume 在下一次分发时恢复为 Running
func (c *Connection) Resume() {
	c.status.CompareAndSwap(int32(Suspended), int32(Resuming))
}

// Terminate 请求在下一次分发时终止
func (c *Connection) Terminate() {
	c.terminate()
}

// Close 立即终止，可重复调用，也可在回调内调用
func (c *Connection) Close() error {
	c.terminate()
	if c.runMu.TryLock() {
		c.done()
		c.runMu.Unlock()
	}
	return nil
}

// Done 即 Close
func (c *Connection) Done() error { return c.Close() }

func (c *Connection) done() {
	c.doneOnce.Do(c.finish)
}

func (c *Connection) finish() {
	if w, ok := c.svc.(WillTerminator); ok {
		w.ConnectionWillTerminate(c)
	}

	c.writeMu.Lock()
	c.finished.Store(true)
	c.writeArmed = false
	c.writeMu.Unlock()

	if err := c.reg.Unregister(c.Ident(), poller.Read|poller.Write); err != nil {
		c.log.Debug("conn: unregister", zap.Error(err))
	}
	if err := c.io.Close(); err != nil {
		c.log.Warn("conn: close", zap.Error(err))
	}
	c.log.Debug("conn: terminated")

	if d, ok := c.svc.(DidTerminator); ok {
		d.ConnectionDidTerminate(c)
	}
	if c.onDone != nil {
		c.onDone(c)
	}
}

// SetValue 保存连接级的用户数据
func (c *Connection) SetValue(key string, v any) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	if c.userInfo == nil {
		c.userInfo = make(map[string]any)
	}
	c.userInfo[key] = v
}

func (c *Connection) Value(key string) (any, bool) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	v, ok := c.userInfo[key]
	return v, ok
}
