package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrShutdownTimeout is returned when roles do not finish before the deadline.
var ErrShutdownTimeout = errors.New("shutdown timeout")

// Latch counts running roles and lets the coordinator wait for all of them
// with a deadline.
type Latch struct {
	wg      sync.WaitGroup
	pending atomic.Int64
}

// Add registers n roles.
func (l *Latch) Add(n int) {
	l.pending.Add(int64(n))
	l.wg.Add(n)
}

// Done marks one role as exited.
func (l *Latch) Done() {
	l.pending.Add(-1)
	l.wg.Done()
}

// Go runs fn on a new goroutine counted by the latch.
func (l *Latch) Go(fn func()) {
	l.Add(1)
	go func() {
		defer l.Done()
		fn()
	}()
}

// Pending reports how many roles have not exited yet.
func (l *Latch) Pending() int {
	return int(l.pending.Load())
}

// Wait blocks until every role exited or ctx ends. A passed deadline yields
// ErrShutdownTimeout; any other cancellation is wrapped.
func (l *Latch) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrShutdownTimeout
		}
		return fmt.Errorf("wait for roles: %w", ctx.Err())
	}
}
