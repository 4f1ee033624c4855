//go:build linux

package netutil

import "golang.org/x/sys/unix"

// Available 返回内核接收缓冲中可读的字节数（TIOCINQ 即 FIONREAD）
func Available(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCINQ)
}
