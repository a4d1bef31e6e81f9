// Package ratelimit spaces requests to the same domain by a minimum,
// circadian-adjusted interval and caps per-domain bursts.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/humancrawl/internal/behavior"
	"github.com/JakeFAU/humancrawl/internal/clock/system"
	"github.com/JakeFAU/humancrawl/internal/telemetry"
)

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerSecond float64
	// BurstSize caps how many requests a domain may receive inside any one
	// second window.
	BurstSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 2.0, BurstSize: 10}
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits on a timer and honours ctx cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DomainState is a copy of one domain's bookkeeping.
type DomainState struct {
	LastRequest time.Time
	Count       int
}

// Limiter manages per-domain pacing. It is safe for concurrent use and may
// be shared across orchestrators.
type Limiter struct {
	mu        sync.Mutex
	interval  time.Duration
	burst     int
	clock     Clock
	sleep     SleepFunc
	circadian func(time.Time) float64
	domains   map[string]*DomainState
	buckets   map[string]*rate.Limiter
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithSleep replaces the timer based sleep.
func WithSleep(s SleepFunc) Option {
	return func(l *Limiter) { l.sleep = s }
}

// WithCircadian replaces the hour-of-day interval multiplier.
func WithCircadian(f func(time.Time) float64) Option {
	return func(l *Limiter) { l.circadian = f }
}

// New creates a Limiter. A non-positive rate disables the minimum interval.
func New(cfg Config, opts ...Option) *Limiter {
	var interval time.Duration
	if cfg.RequestsPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		interval:  interval,
		burst:     burst,
		clock:     system.New(),
		sleep:     Sleep,
		circadian: behavior.CircadianMultiplierAt,
		domains:   make(map[string]*DomainState),
		buckets:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitTime returns how long a caller must wait before the next request to
// domain. It is never negative.
func (l *Limiter) WaitTime(domain string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waitTimeLocked(domain, l.clock.Now())
}

// RecordRequest marks a request to domain as issued now.
func (l *Limiter) RecordRequest(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(domain, l.clock.Now())
}

// Wait blocks until domain may receive another request, then records the
// slot. The check and the record happen in one critical section.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.clock.Now()
		delay := l.waitTimeLocked(domain, now)
		if delay <= 0 {
			bucket := l.bucketLocked(domain)
			if bucket.AllowN(now, 1) {
				l.recordLocked(domain, now)
				l.mu.Unlock()
				if waited > time.Millisecond {
					telemetry.ObserveRateLimitDelay(domain, waited)
				}
				return nil
			}
			r := bucket.ReserveN(now, 1)
			delay = r.DelayFrom(now)
			r.CancelAt(now)
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, delay); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		waited += delay
	}
}

// Snapshot returns a copy of the bookkeeping for domain.
func (l *Limiter) Snapshot(domain string) DomainState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ds, ok := l.domains[domain]; ok {
		return *ds
	}
	return DomainState{}
}

// Reset forgets every domain.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.domains = make(map[string]*DomainState)
	l.buckets = make(map[string]*rate.Limiter)
}

func (l *Limiter) waitTimeLocked(domain string, now time.Time) time.Duration {
	ds, ok := l.domains[domain]
	if !ok || l.interval == 0 {
		return 0
	}
	mult := l.circadian(now)
	if mult < 1 {
		mult = 1
	}
	required := time.Duration(float64(l.interval) * mult)
	if remaining := required - now.Sub(ds.LastRequest); remaining > 0 {
		return remaining
	}
	return 0
}

func (l *Limiter) recordLocked(domain string, now time.Time) {
	ds, ok := l.domains[domain]
	if !ok {
		ds = &DomainState{}
		l.domains[domain] = ds
	}
	ds.LastRequest = now
	ds.Count++
}

func (l *Limiter) bucketLocked(domain string) *rate.Limiter {
	b, ok := l.buckets[domain]
	if !ok {
		b = rate.NewLimiter(rate.Every(time.Second/time.Duration(l.burst)), l.burst)
		l.buckets[domain] = b
	}
	return b
}
