//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package poller

func New() (Poller, error) { return nil, ErrPlatformNotSupported }
