package service

import (
	"context"
	"sync"
	"time"

	"github.com/use-agent/scram/models"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused per-domain limiter is kept.
const limiterIdleTTL = time.Hour

type domainLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter paces outbound fetches with one global token bucket and one bucket
// per target domain. A fetch waits on both.
type Limiter struct {
	global    *rate.Limiter
	domainRPS rate.Limit

	mu      sync.Mutex
	domains map[string]*domainLimiter

	done chan struct{}
	once sync.Once
}

// NewLimiter creates a Limiter. A non-positive rate disables that bucket.
func NewLimiter(globalRPS, domainRPS float64) *Limiter {
	l := &Limiter{
		global:    rate.NewLimiter(toLimit(globalRPS), 1),
		domainRPS: toLimit(domainRPS),
		domains:   make(map[string]*domainLimiter),
		done:      make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until both the global and the domain bucket allow a fetch.
// It fails with ErrCodeTimeout or ErrCodeCanceled if ctx ends first and ErrCodeRateLimited if
// the wait would outlast ctx's deadline.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	if err := l.global.Wait(ctx); err != nil {
		return limitError(ctx, err)
	}
	if err := l.forDomain(domain).Wait(ctx); err != nil {
		return limitError(ctx, err)
	}
	return nil
}

func limitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return models.FromContext(ctx.Err(), "waiting for rate limiter")
	}
	return models.NewFetchError(models.ErrCodeRateLimited, "outbound rate limit exceeded", err)
}

func (l *Limiter) forDomain(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.domains[domain]
	if !ok {
		entry = &domainLimiter{limiter: rate.NewLimiter(l.domainRPS, 1)}
		l.domains[domain] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Close stops the background eviction goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

// cleanupLoop evicts domains not seen in the last hour.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterIdleTTL)
			l.mu.Lock()
			for d, entry := range l.domains {
				if entry.lastSeen.Before(cutoff) {
					delete(l.domains, d)
				}
			}
			l.mu.Unlock()
		}
	}
}
