// Package client 建立主动连接。Dial 得到的连接与服务器侧连接一样由 reactor 驱动；
// Oneshot 则完全阻塞，适合一次请求一次应答。
package client

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/nikandfor/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/projectSX0/spartanX/addr"
	"github.com/projectSX0/spartanX/conn"
	"github.com/projectSX0/spartanX/socket"
)

var (
	ErrNoAddress = errors.New("client: no usable address")
	ErrNetwork   = errors.New("client: unsupported network")
	ErrTimeout   = errors.New("client: timed out")
)

type options struct {
	tls              *tls.Config
	handshakeTimeout time.Duration
	framed           bool
	frameThreshold   int
	maxFrame         int
	readSize         int
	timeout          time.Duration
	resolver         addr.Resolver
	observer         conn.Observer
	log              *zap.Logger
}

type Option func(*options)

// WithTLS 在登记前完成客户端握手
func WithTLS(cfg *tls.Config) Option { return func(o *options) { o.tls = cfg } }

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithFramed 使用 protocol 帧格式收发
func WithFramed(threshold, maxFrame int) Option {
	return func(o *options) {
		o.framed = true
		o.frameThreshold = threshold
		o.maxFrame = maxFrame
	}
}

func WithReadSize(n int) Option { return func(o *options) { o.readSize = n } }

// WithTimeout 限定 connect 以及 Oneshot 等待应答的时间
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

func WithResolver(r addr.Resolver) Option { return func(o *options) { o.resolver = r } }

func WithObserver(ob conn.Observer) Option { return func(o *options) { o.observer = ob } }

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		handshakeTimeout: 5 * time.Second,
		readSize:         socket.DefaultReadSize,
		resolver:         net.DefaultResolver,
		log:              zap.NewNop(),
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

func hintsFor(network string) (addr.Hints, error) {
	h := addr.Hints{Type: unix.SOCK_STREAM}
	switch network {
	case "tcp":
	case "tcp4":
		h.Domain = addr.Inet
	case "tcp6":
		h.Domain = addr.Inet6
	default:
		return h, ErrNetwork
	}
	return h, nil
}

// connect 按顺序尝试候选地址，第一个成功的胜出；返回阻塞模式的套接字
func connect(ctx context.Context, cands []addr.SocketAddress, o *options) (*socket.Socket, error) {
	if len(cands) == 0 {
		return nil, ErrNoAddress
	}
	var last error
	for _, a := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := socket.New(a.Domain(), unix.SOCK_STREAM, 0)
		if err != nil {
			last = err
			continue
		}
		if d := connectTimeout(ctx, o.timeout); d > 0 {
			s.SetSendTimeout(d)
		}
		if err := s.Connect(a); err != nil {
			o.log.Debug("client: connect failed", zap.Stringer("addr", a), zap.Error(err))
			s.Close()
			last = err
			continue
		}
		s.SetSendTimeout(0)
		s.SetLogger(o.log)
		s.SetReadSize(o.readSize)
		s.SetNoDelay(true)
		return s, nil
	}
	return nil, last
}

func connectTimeout(ctx context.Context, d time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); d <= 0 || left < d {
			d = left
		}
	}
	return d
}

func resolve(ctx context.Context, network, host, service string, o *options) ([]addr.SocketAddress, error) {
	hints, err := hintsFor(network)
	if err != nil {
		return nil, err
	}
	return addr.ResolveWith(ctx, o.resolver, host, service, hints)
}

func dialUnix(path string) ([]addr.SocketAddress, error) {
	a, err := addr.Encode(addr.Unix, path, 0)
	if err != nil {
		return nil, err
	}
	return []addr.SocketAddress{a}, nil
}

// Dial 解析后依次连接候选地址，成功后登记到 reg，连接由 svc 处理
func Dial(ctx context.Context, reg conn.Registrar, network, host, service string, svc conn.Service, opts ...Option) (*conn.Connection, error) {
	o := buildOptions(opts)
	cands, err := resolve(ctx, network, host, service, o)
	if err != nil {
		return nil, err
	}
	s, err := connect(ctx, cands, o)
	if err != nil {
		return nil, errors.Wrap(err, "dial %v", net.JoinHostPort(host, service))
	}
	return attach(ctx, s, reg, svc, o)
}

// DialUnix 连接 unix 域流式套接字
func DialUnix(ctx context.Context, reg conn.Registrar, path string, svc conn.Service, opts ...Option) (*conn.Connection, error) {
	o := buildOptions(opts)
	cands, err := dialUnix(path)
	if err != nil {
		return nil, err
	}
	s, err := connect(ctx, cands, o)
	if err != nil {
		return nil, errors.Wrap(err, "dial %v", path)
	}
	return attach(ctx, s, reg, svc, o)
}

func attach(ctx context.Context, s *socket.Socket, reg conn.Registrar, svc conn.Service, o *options) (*conn.Connection, error) {
	var rw conn.IO
	if o.tls != nil {
		tio, err := conn.Handshake(ctx, s, tlsFor(o.tls, s), false, o.handshakeTimeout)
		if err != nil {
			s.Close()
			return nil, err
		}
		rw = tio
	} else {
		if err := s.SetBlocking(false); err != nil {
			s.Close()
			return nil, err
		}
		rw = conn.NewPlainIO(s)
	}
	if o.framed {
		rw = conn.NewFramedIO(rw, o.frameThreshold, o.maxFrame)
	}

	copts := []conn.Option{conn.WithReadSize(o.readSize), conn.WithLogger(o.log)}
	if o.observer != nil {
		copts = append(copts, conn.WithObserver(o.observer))
	}
	c := conn.New(s, rw, svc, reg, copts...)
	if err := c.Start(); err != nil {
		c.Close()
		return nil, err
	}
	o.log.Debug("client: connected", zap.Stringer("peer", s.PeerAddr()))
	return c, nil
}

// tlsFor 未指定 ServerName 时用对端地址补上
func tlsFor(cfg *tls.Config, s *socket.Socket) *tls.Config {
	if cfg.ServerName != "" || cfg.InsecureSkipVerify {
		return cfg
	}
	c := cfg.Clone()
	c.ServerName = s.PeerAddr().Host()
	return c
}

// Oneshot 连接、发送 request，并在超时内读取一次应答。不经过 reactor。
// 对端未应答即关闭时返回 io.EOF；超时返回 ErrTimeout。
func Oneshot(ctx context.Context, network, host, service string, request []byte, opts ...Option) ([]byte, error) {
	o := buildOptions(opts)
	var cands []addr.SocketAddress
	var err error
	if network == "unix" {
		cands, err = dialUnix(host)
	} else {
		cands, err = resolve(ctx, network, host, service, o)
	}
	if err != nil {
		return nil, err
	}
	s, err := connect(ctx, cands, o)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	wait := connectTimeout(ctx, o.timeout)
	if o.tls != nil {
		return oneshotTLS(ctx, s, request, wait, o)
	}
	if err := s.SendAll(request, 0); err != nil {
		return nil, err
	}
	if err := s.SetRecvTimeout(wait); err != nil {
		return nil, err
	}
	resp, err := s.Recv(o.readSize, 0)
	if conn.IsTimeout(err) {
		return nil, ErrTimeout
	}
	return resp, err
}

func oneshotTLS(ctx context.Context, s *socket.Socket, request []byte, wait time.Duration, o *options) ([]byte, error) {
	tio, err := conn.Handshake(ctx, s, tlsFor(o.tls, s), false, o.handshakeTimeout)
	if err != nil {
		return nil, err
	}
	defer tio.Close()
	if err := s.SetBlocking(true); err != nil {
		return nil, err
	}
	if err := tio.Write(request); err != nil {
		return nil, err
	}
	if _, err := tio.Flush(); err != nil {
		return nil, err
	}
	if err := s.SetRecvTimeout(wait); err != nil {
		return nil, err
	}
	resp, err := tio.ReadOnce(o.readSize)
	if conn.IsTimeout(err) {
		return nil, ErrTimeout
	}
	return resp, err
}
