package conn

import "github.com/projectSX0/spartanX/poller"

// Service 处理连接上的数据。两个方法都在 reactor 线程上调用，不应阻塞。
type Service interface {
	// Received 返回 false 时连接终止；返回的错误交给 ExceptionRaised 裁决
	Received(c *Connection, data []byte) (keepOpen bool, err error)
	// ExceptionRaised 报告错误。对 I/O 错误仅作通知，连接总会终止；
	// 对 Received 返回的错误，返回 true 可保留连接。
	// 服务器的 accept 错误以 c == nil 报告。
	ExceptionRaised(c *Connection, err error) (keepOpen bool)
}

// ServiceFunc 把普通函数适配为 Service，任何错误都会终止连接
type ServiceFunc func(c *Connection, data []byte) (bool, error)

func (f ServiceFunc) Received(c *Connection, data []byte) (bool, error) { return f(c, data) }

func (f ServiceFunc) ExceptionRaised(*Connection, error) bool { return false }

// 以下为可选接口，Service 实现了才会被调用

type Accepter interface {
	Accepted(c *Connection)
}

type WillTerminator interface {
	ConnectionWillTerminate(c *Connection)
}

type DidTerminator interface {
	ConnectionDidTerminate(c *Connection)
}

// Observer 接收连接状态变化
type Observer interface {
	ConnectionDidChangeStatus(c *Connection, s Status)
}

// Registrar 为连接登记事件兴趣，kernel.Manager 即满足
type Registrar interface {
	Register(h poller.Handler, f poller.Filter) error
	Unregister(fd int, f poller.Filter) error
}
