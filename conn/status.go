package conn

// Status 为连接（以及服务器）的运行状态
type Status int32

const (
	Idle Status = iota
	Running
	Resuming
	Suspended
	ShouldTerminate
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Resuming:
		return "resuming"
	case Suspended:
		return "suspended"
	case ShouldTerminate:
		return "should-terminate"
	}
	return "unknown"
}

// StatusSource 是连接的所有者（通常是服务器），连接在每次分发时继承其状态
type StatusSource interface {
	Status() Status
}
