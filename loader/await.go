package loader

import (
	"context"
	"errors"
	"time"
)

var ErrAwaitTimeout = errors.New("timed out waiting for condition")

// Await polls pred every interval until it returns true. A timeout <= 0 waits
// until ctx is done.
func Await(ctx context.Context, interval, timeout time.Duration, pred func() bool) error {
	if pred() {
		return nil
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			if pred() {
				return nil
			}
			return ErrAwaitTimeout
		case <-ticker.C:
			if pred() {
				return nil
			}
		}
	}
}
