// Package humanize injects bounded random pauses into automated browsing
// flows so their timing varies the way a person's would.
package humanize

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Range is the half-open interval [Min, Max) a delay is drawn from.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("[%v, %v)", r.Min, r.Max)
}

// Contains reports whether d falls inside the range. A degenerate range
// (Max <= Min) contains only Min.
func (r Range) Contains(d time.Duration) bool {
	if r.Max <= r.Min {
		return d == r.Min
	}
	return d >= r.Min && d < r.Max
}

// Timer samples and sleeps humanization delays. It is safe for concurrent use.
type Timer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Timer backed by src.
func New(src rand.Source) *Timer {
	return &Timer{rng: rand.New(src)}
}

// NewDefault creates a Timer seeded from the runtime's random source.
func NewDefault() *Timer {
	return New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Sample draws a duration uniformly from r. When r is degenerate it returns r.Min.
func (t *Timer) Sample(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	t.mu.Lock()
	n := t.rng.Int64N(int64(r.Max - r.Min))
	t.mu.Unlock()
	return r.Min + time.Duration(n)
}

// Delay suspends the caller for a duration sampled from r and returns it.
// It returns early with ctx.Err() if ctx is done first.
func (t *Timer) Delay(ctx context.Context, r Range) (time.Duration, error) {
	d := t.Sample(r)
	if d <= 0 {
		return 0, ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return d, ctx.Err()
	case <-timer.C:
		return d, nil
	}
}
