package tracking

import (
	"sync"
	"time"
)

// task is a periodic job owned by the coordinator. Its ticks run on the
// loop and are skipped once the task has been stopped, even if already
// queued.
type task struct {
	stop chan struct{}
	once sync.Once
}

func (t *task) Stop() {
	t.once.Do(func() { close(t.stop) })
}

func (t *task) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// every starts a task calling fn on the loop each interval. Loop only.
func (c *Coordinator) every(interval time.Duration, fn func()) *task {
	t := &task{stop: make(chan struct{})}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.post(func() {
					if !t.stopped() {
						fn()
					}
				})
			case <-t.stop:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()
	return t
}

func (c *Coordinator) stopCountdown() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	c.countdownTicks = 0
}

func (c *Coordinator) stopLocationPing() {
	if c.locationPing != nil {
		c.locationPing.Stop()
		c.locationPing = nil
	}
}
