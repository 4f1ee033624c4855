package server

import (
	"github.com/projectSX0/spartanX/conn"
	"github.com/projectSX0/spartanX/socket"
)

// Delegate 可以是任意值，实现了下列接口中的哪些就收到哪些回调。
// 若同时实现 conn.Observer，则接收每个连接的状态变化。
type Delegate any

// Gate 在 accept 之后、创建连接之前决定是否接纳
type Gate interface {
	ShouldConnect(s *Server, sock *socket.Socket) bool
}

type StartObserver interface {
	ServerDidStart(s *Server)
}

type KillObserver interface {
	ServerWillKill(s *Server)
	ServerDidKill(s *Server)
}

type StatusObserver interface {
	ServerDidChangeStatus(s *Server, st conn.Status)
}

type ConnectObserver interface {
	ConnectionDidConnect(s *Server, c *conn.Connection)
}

type DisconnectObserver interface {
	ConnectionDidDisconnect(s *Server, c *conn.Connection)
}
