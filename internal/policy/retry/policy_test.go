package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/humancrawl/internal/stats"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

func TestCeilingDoublesAndCaps(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig())
	require.Equal(t, time.Second, p.Ceiling(1))
	require.Equal(t, 2*time.Second, p.Ceiling(2))
	require.Equal(t, 16*time.Second, p.Ceiling(5))
	require.Equal(t, 30*time.Second, p.Ceiling(6))
	require.Equal(t, 30*time.Second, p.Ceiling(60))
	require.Equal(t, time.Second, p.Ceiling(0))
}

func TestBackoffWithinEnvelope(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig())
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 20; i++ {
			d := p.Backoff(attempt)
			require.GreaterOrEqual(t, d, p.Ceiling(attempt)/2)
			require.LessOrEqual(t, d, p.Ceiling(attempt))
		}
	}
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig())
	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(errors.New("boom"), 1))
	require.False(t, p.ShouldRetry(errors.New("boom"), 3))
	require.False(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", context.Canceled), 1))
	require.True(t, p.ShouldRetry(timeoutErr{timeout: true}, 1))
	require.False(t, p.ShouldRetry(timeoutErr{timeout: false}, 1))
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 7*time.Second, ParseRetryAfter("7", now))
	require.Equal(t, 90*time.Second, ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	require.Zero(t, ParseRetryAfter("soon", now))
	require.Zero(t, ParseRetryAfter("-3", now))
	require.Zero(t, ParseRetryAfter(now.Add(-time.Hour).Format(http.TimeFormat), now))

	p := New(DefaultConfig())
	require.Equal(t, 7*time.Second, p.BackoffWithRetryAfter(1, 7*time.Second))
	require.Equal(t, 30*time.Second, p.BackoffWithRetryAfter(1, time.Hour))
}

func TestRetryableStatus(t *testing.T) {
	t.Parallel()

	require.True(t, RetryableStatus(http.StatusTooManyRequests))
	require.True(t, RetryableStatus(http.StatusBadGateway))
	require.False(t, RetryableStatus(http.StatusNotFound))
}

func TestBackoffUsesInjectedSampler(t *testing.T) {
	t.Parallel()

	low := New(DefaultConfig(), WithSampler(stats.NewSampler(stats.NewSequence(0))))
	require.Equal(t, 2*time.Second, low.Backoff(3))

	mid := New(DefaultConfig(), WithSampler(stats.NewSampler(stats.NewSequence(0.5))))
	require.Equal(t, 3*time.Second, mid.Backoff(3))

	a := New(DefaultConfig(), WithSampler(stats.NewSampler(stats.NewSeededSource(3, 4))))
	b := New(DefaultConfig(), WithSampler(stats.NewSampler(stats.NewSeededSource(3, 4))))
	for attempt := 1; attempt <= 5; attempt++ {
		require.Equal(t, a.Backoff(attempt), b.Backoff(attempt))
	}
}

func TestShouldRetryStatusHonoursBudget(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxAttempts: 2})
	require.Equal(t, 2, p.MaxAttempts())
	require.True(t, p.ShouldRetryStatus(http.StatusServiceUnavailable, 1))
	require.False(t, p.ShouldRetryStatus(http.StatusServiceUnavailable, 2))
	require.False(t, p.ShouldRetryStatus(http.StatusForbidden, 1))
}
