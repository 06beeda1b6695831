// pkg/erp/throttle.go
package erp

import (
	"context"
	"sync"
	"time"
)

// Throttle spaces consecutive calls by a fixed delay
type Throttle struct {
	delay time.Duration
	mu    sync.Mutex
	last  time.Time
}

// NewThrottle creates a throttle; a zero delay never waits
func NewThrottle(delay time.Duration) *Throttle {
	return &Throttle{delay: delay}
}

// Wait blocks until the delay since the previous call has passed
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.delay <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() {
		if remaining := t.delay - time.Since(t.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	t.last = time.Now()
	return nil
}
