//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package kernel

import (
	"io"

	"github.com/projectSX0/spartanX/poller"
)

func (m *Manager) Monitor(path string, events poller.FileEvents, cb FileCallback) (io.Closer, error) {
	return nil, poller.ErrPlatformNotSupported
}

func (w *monitor) collect(poller.Event) poller.FileEvents { return 0 }

func (w *monitor) closeFD() {}
