package scheduler

import (
	"context"
	"time"
)

// Clock is the time source for start barriers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// waitUntil blocks until at, returning early with the context error when
// ctx is done first. A start time already in the past does not wait.
func waitUntil(ctx context.Context, clock Clock, at time.Time) error {
	if at.IsZero() {
		return ctx.Err()
	}
	d := at.Sub(clock.Now())
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
