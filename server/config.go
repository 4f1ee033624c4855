package server

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/projectSX0/spartanX/addr"
	"github.com/projectSX0/spartanX/socket"
)

type Config struct {
	Network  string // tcp / tcp4 / tcp6 / unix
	Address  string // host:port，unix 下为路径
	Backlog  int
	MaxGuest int // 同时在线连接上限，0 表示不限
	ReadSize int

	// TLS 非空时启用；为空但给出 CertFile/KeyFile 时从文件加载
	TLS              *tls.Config
	CertFile         string
	KeyFile          string
	HandshakeTimeout time.Duration

	Framed         bool
	FrameThreshold int // 超过该大小的帧压缩
	MaxFrame       int

	// IdleTimeout 超过该时间未收到数据的连接被关闭，0 表示不检查
	IdleTimeout time.Duration

	ReusePort bool
	Logger    *zap.Logger
}

// DefaultConfig 提供一组可工作的默认值
func DefaultConfig() Config {
	return Config{
		Network:          "tcp",
		Address:          ":0",
		Backlog:          1024,
		ReadSize:         socket.DefaultReadSize,
		HandshakeTimeout: 5 * time.Second,
		FrameThreshold:   512,
		MaxFrame:         16 << 20, // 16 MiB
	}
}

func (c *Config) normalize() error {
	d := DefaultConfig()
	if c.Network == "" {
		c.Network = d.Network
	}
	if c.Backlog <= 0 {
		c.Backlog = d.Backlog
	}
	if c.ReadSize <= 0 {
		c.ReadSize = d.ReadSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = d.MaxFrame
	}
	if c.MaxGuest < 0 {
		return ErrInvalidConfig
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.TLS == nil && c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return err
		}
		c.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	return nil
}

// listenAddr 解析监听地址；主机名只取第一个解析结果
func (c *Config) listenAddr(ctx context.Context) (addr.SocketAddress, error) {
	if c.Network == "unix" {
		return addr.Encode(addr.Unix, c.Address, 0)
	}
	host, service, err := net.SplitHostPort(c.Address)
	if err != nil {
		return addr.SocketAddress{}, err
	}
	hints := addr.Hints{}
	switch c.Network {
	case "tcp4":
		hints.Domain = addr.Inet
	case "tcp6":
		hints.Domain = addr.Inet6
	case "tcp":
	default:
		return addr.SocketAddress{}, ErrInvalidConfig
	}
	if host == "" {
		d := hints.Domain
		if d == addr.Unspec {
			d = addr.Inet
		}
		port, err := strconv.ParseUint(service, 10, 16)
		if err != nil {
			return addr.SocketAddress{}, err
		}
		return addr.Any(d, uint16(port))
	}
	cands, err := addr.Resolve(ctx, host, service, hints)
	if err != nil {
		return addr.SocketAddress{}, err
	}
	if len(cands) == 0 {
		return addr.SocketAddress{}, addr.ErrResolution
	}
	return cands[0], nil
}
