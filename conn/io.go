package conn

import (
	"github.com/eapache/queue"

	"github.com/projectSX0/spartanX/socket"
)

// IO 是连接读写策略，构造时选定
type IO interface {
	// Read 读取当前可得的数据；对端关闭且无数据时返回 io.EOF
	Read(max int) ([]byte, error)
	// Write 不阻塞：写不完的部分留在积压队列
	Write(p []byte) error
	// Flush 在可写时调用，尽量发送积压数据
	Flush() (pending bool, err error)
	Pending() bool
	Close() error
}

// prefetcher 由可能在登记读事件之前就缓存了输入的 IO 实现。
// 水平触发的 poller 看不到这部分数据，连接启动时需补读一次。
type prefetcher interface {
	Prefetched() bool
}

// backlog 是待发送数据的 FIFO
type backlog struct {
	q    *queue.Queue
	size int
}

func (b *backlog) len() int { return b.size }

func (b *backlog) push(p []byte) {
	if len(p) == 0 {
		return
	}
	if b.q == nil {
		b.q = queue.New()
	}
	cp := append([]byte(nil), p...)
	b.q.Add(&cp)
	b.size += len(cp)
}

// flush 发送到 EAGAIN 为止；部分写入时截短队首
func (b *backlog) flush(send func([]byte) (int, error)) (bool, error) {
	for b.size > 0 {
		head := b.q.Peek().(*[]byte)
		n, err := send(*head)
		if n > 0 {
			b.size -= n
			*head = (*head)[n:]
		}
		if len(*head) == 0 {
			b.q.Remove()
		}
		if err != nil {
			if socket.IsWouldBlock(err) {
				return true, nil
			}
			return true, err
		}
		if n == 0 {
			return true, nil
		}
	}
	return false, nil
}

// PlainIO 直接读写套接字
type PlainIO struct {
	sock    *socket.Socket
	pending backlog
	// RecvFlags / SendFlags 透传给 recv(2) / send(2)
	RecvFlags int
	SendFlags int
}

func NewPlainIO(s *socket.Socket) *PlainIO { return &PlainIO{sock: s} }

func (p *PlainIO) Read(max int) ([]byte, error) { return p.sock.Recv(max, p.RecvFlags) }

func (p *PlainIO) send(b []byte) (int, error) { return p.sock.Send(b, p.SendFlags) }

func (p *PlainIO) Write(b []byte) error {
	if p.pending.len() > 0 {
		p.pending.push(b)
		return nil
	}
	if p.sock.IsBlocking() {
		return p.sock.SendAll(b, p.SendFlags)
	}
	for len(b) > 0 {
		n, err := p.send(b)
		if n > 0 {
			b = b[n:]
		}
		if err != nil {
			if socket.IsWouldBlock(err) {
				break
			}
			return err
		}
		if n == 0 {
			break
		}
	}
	p.pending.push(b)
	return nil
}

func (p *PlainIO) Flush() (bool, error) { return p.pending.flush(p.send) }

func (p *PlainIO) Pending() bool { return p.pending.len() > 0 }

func (p *PlainIO) Close() error {
	if err := p.sock.Close(); err != nil && err != socket.ErrClosed {
		return err
	}
	return nil
}
