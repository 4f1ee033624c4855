//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package netutil

import "golang.org/x/sys/unix"

// fionread 即 _IOR('f', 127, int)，各 BSD 取值相同；x/sys/unix 未导出该常量
const fionread = 0x4004667f

// Available 返回内核接收缓冲中可读的字节数
func Available(fd int) (int, error) {
	return unix.IoctlGetInt(fd, fionread)
}
