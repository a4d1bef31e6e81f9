// Package retry computes advisory exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/humancrawl/internal/stats"
)

// Config controls the attempt budget and the delay envelope.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Policy implements jittered exponential backoff.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sampler     *stats.Sampler
}

// Option customises a Policy.
type Option func(*Policy)

// WithSampler sets the randomness behind the jitter.
func WithSampler(s *stats.Sampler) Option {
	return func(p *Policy) {
		if s != nil {
			p.sampler = s
		}
	}
}

// New builds a Policy. Unset fields take defaults.
func New(cfg Config, opts ...Option) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	p := &Policy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sampler == nil {
		p.sampler = stats.NewSampler(nil)
	}
	return p
}

// MaxAttempts returns the attempt budget.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether err after attempt (1-based) is worth another
// try.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// ShouldRetryStatus decides whether an HTTP status after attempt (1-based)
// is worth another try.
func (p *Policy) ShouldRetryStatus(status, attempt int) bool {
	return attempt < p.maxAttempts && RetryableStatus(status)
}

// RetryableStatus reports whether an HTTP status is transient.
func RetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}

// Ceiling is the un-jittered delay before attempt+1: base doubled per
// attempt and capped at the maximum.
func (p *Policy) Ceiling(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay)
}

// Backoff returns a delay in [Ceiling/2, Ceiling].
func (p *Policy) Backoff(attempt int) time.Duration {
	ceiling := p.Ceiling(attempt)
	half := ceiling / 2
	return half + time.Duration(p.sampler.Float64()*float64(half))
}

// BackoffWithRetryAfter prefers a server supplied Retry-After, still capped
// at the maximum delay.
func (p *Policy) BackoffWithRetryAfter(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > p.maxDelay {
			return p.maxDelay
		}
		return retryAfter
	}
	return p.Backoff(attempt)
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form. Unparseable or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
