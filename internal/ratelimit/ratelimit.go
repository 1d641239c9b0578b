// Package ratelimit provides the pacing primitive that spaces sequential
// scrape requests. It only ever holds the caller; it never drops or queues
// work. Each batch job owns its own governor so concurrent jobs do not
// share a rate budget.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Governor blocks a sequential flow until the configured interval has
// elapsed since the previous call was released.
type Governor interface {
	Wait(ctx context.Context) error
}

// IntervalGovernor enforces a minimum delay between releases, with optional
// jitter between a minimum and maximum delay. Elapsed time is measured from
// the release of the previous call, not its arrival, so governor cost does
// not compound with extraction latency. A zero delay means "no wait".
type IntervalGovernor struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	lastRelease time.Time
	mu          sync.Mutex
}

// New returns a governor with a fixed delay between releases.
func New(delay time.Duration) *IntervalGovernor {
	return &IntervalGovernor{minDelay: delay, maxDelay: delay}
}

// NewJittered returns a governor that waits a random duration between min
// and max on each turn.
func NewJittered(min, max time.Duration) *IntervalGovernor {
	if max < min {
		max = min
	}
	return &IntervalGovernor{minDelay: min, maxDelay: max}
}

// PerMinute returns a governor enforcing at most rate releases per minute.
// A rate of zero or less means unbounded.
func PerMinute(rate int) *IntervalGovernor {
	if rate <= 0 {
		return New(0)
	}
	return New(time.Minute / time.Duration(rate))
}

func (g *IntervalGovernor) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delay := g.delay()

	if !g.lastRelease.IsZero() && delay > 0 {
		if elapsed := time.Since(g.lastRelease); elapsed < delay {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay - elapsed):
			}
		}
	}

	g.lastRelease = time.Now()
	return nil
}

func (g *IntervalGovernor) delay() time.Duration {
	if g.maxDelay <= g.minDelay {
		return g.minDelay
	}
	return g.minDelay + time.Duration(rand.Int63n(int64(g.maxDelay-g.minDelay)))
}
