package netutil

import (
	"time"

	"golang.org/x/sys/unix"
)

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func SetNonblock(fd int, nonblock bool) error {
	return unix.SetNonblock(fd, nonblock)
}

// IsNonblock 读取 O_NONBLOCK 标志
func IsNonblock(fd int) (bool, error) {
	fl, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return false, err
	}
	return fl&unix.O_NONBLOCK != 0, nil
}

func SetReusePort(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolInt(enable))
}

func SetReuseAddr(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolInt(enable))
}

func SetNoDelay(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(enable))
}

func SetRecvBuf(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, n)
}

func SetSendBuf(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n)
}

// SetRecvTimeout 设置 SO_RCVTIMEO；d<=0 表示取消超时
func SetRecvTimeout(fd int, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

// SetSendTimeout 设置 SO_SNDTIMEO，阻塞 connect 同样受其限制
func SetSendTimeout(fd int, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
}
