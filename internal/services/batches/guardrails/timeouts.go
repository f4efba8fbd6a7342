// Package guardrails holds cross cutting safety helpers for polling cycles
package guardrails

import (
	"context"
	"time"
)

// Timeouts is an optional budget bundle for one polling cycle.
// Zero values mean no extra timeout at that level
type Timeouts struct {
	// Cycle is the overall budget for one source's cycle
	Cycle time.Duration

	// Download caps fetching one remote file
	Download time.Duration

	// Split caps splitting and preparing one batch
	Split time.Duration

	// Deliver caps delivering one batch
	Deliver time.Duration
}

// WithCycle returns a context limited by the cycle budget without extending any parent deadline
func WithCycle(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Cycle)
}

// ForDownload returns a sub context for one download
func ForDownload(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Download)
}

// ForSplit returns a sub context for the split stage of one batch
func ForSplit(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Split)
}

// ForDeliver returns a sub context for delivering one batch
func ForDeliver(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Deliver)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		d := time.Until(dl)
		if d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout chooses the tighter of d and any parent remainder.
// When d is zero it returns a cancelable child inheriting the parent deadline
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
