package server

import (
	"time"
)

// 空闲检查：一个 ticker 周期性扫描全部连接（不做分桶，连接数量级下足够）。

const minIdleTick = 10 * time.Millisecond

type timerWheel struct {
	interval time.Duration
	stopCh   chan struct{}
}

func newTimerWheel(interval time.Duration) *timerWheel {
	if interval < minIdleTick {
		interval = minIdleTick
	}
	return &timerWheel{interval: interval, stopCh: make(chan struct{})}
}

func (tw *timerWheel) run(onTick func()) {
	tk := time.NewTicker(tw.interval)
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			onTick()
		case <-tw.stopCh:
			return
		}
	}
}

func (tw *timerWheel) stop() { close(tw.stopCh) }
