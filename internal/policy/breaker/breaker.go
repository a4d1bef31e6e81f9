// Package breaker implements per-domain circuit breakers.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/humancrawl/internal/clock/system"
	"github.com/JakeFAU/humancrawl/internal/telemetry"
)

// State is a circuit breaker state.
type State string

// Breaker states.
const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config controls when a domain trips and how it recovers.
type Config struct {
	Enabled          bool
	FailureThreshold int
	Timeout          time.Duration
	HalfOpenRequests int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
		HalfOpenRequests: 3,
	}
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// DomainState is a copy of one domain's breaker bookkeeping.
type DomainState struct {
	State             State
	Failures          int
	OpenedAt          time.Time
	HalfOpenSuccesses int
}

// Registry holds the breakers for every domain seen so far. It is safe for
// concurrent use and may be shared across orchestrators.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	logger  *zap.Logger
	domains map[string]*DomainState
}

// New builds a Registry. Non-positive thresholds take defaults.
func New(cfg Config, clock Clock, logger *zap.Logger) *Registry {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		domains: make(map[string]*DomainState),
	}
}

// IsOpen reports whether requests to domain must be rejected. An open
// breaker whose timeout has elapsed moves to half-open and admits the call.
func (r *Registry) IsOpen(domain string) bool {
	if !r.cfg.Enabled {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.domains[domain]
	if !ok || ds.State != Open {
		return false
	}
	if r.clock.Now().Sub(ds.OpenedAt) > r.cfg.Timeout {
		ds.HalfOpenSuccesses = 0
		r.transition(domain, ds, HalfOpen)
		return false
	}
	return true
}

// RecordSuccess notes a successful request to domain.
func (r *Registry) RecordSuccess(domain string) {
	if !r.cfg.Enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ds := r.lookup(domain)
	switch ds.State {
	case Closed:
		ds.Failures = 0
	case HalfOpen:
		ds.HalfOpenSuccesses++
		if ds.HalfOpenSuccesses >= r.cfg.HalfOpenRequests {
			ds.Failures = 0
			ds.HalfOpenSuccesses = 0
			r.transition(domain, ds, Closed)
		}
	case Open:
	}
}

// RecordFailure notes a failed request to domain.
func (r *Registry) RecordFailure(domain string) {
	if !r.cfg.Enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ds := r.lookup(domain)
	ds.Failures++
	switch ds.State {
	case Closed:
		if ds.Failures >= r.cfg.FailureThreshold {
			ds.OpenedAt = r.clock.Now()
			r.transition(domain, ds, Open)
		}
	case HalfOpen:
		ds.OpenedAt = r.clock.Now()
		ds.HalfOpenSuccesses = 0
		r.transition(domain, ds, Open)
	case Open:
	}
}

// State returns the current state of domain without applying the timeout
// transition. Unknown domains are closed.
func (r *Registry) State(domain string) State {
	return r.Snapshot(domain).State
}

// Snapshot returns a copy of the bookkeeping for domain.
func (r *Registry) Snapshot(domain string) DomainState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ds, ok := r.domains[domain]; ok {
		return *ds
	}
	return DomainState{State: Closed}
}

// Reset forgets every domain.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for domain, ds := range r.domains {
		if ds.State != Closed {
			telemetry.SetBreakerGauge(domain, string(Closed))
		}
	}
	r.domains = make(map[string]*DomainState)
}

func (r *Registry) lookup(domain string) *DomainState {
	ds, ok := r.domains[domain]
	if !ok {
		ds = &DomainState{State: Closed}
		r.domains[domain] = ds
	}
	return ds
}

func (r *Registry) transition(domain string, ds *DomainState, to State) {
	from := ds.State
	ds.State = to
	r.logger.Info("circuit breaker transition",
		zap.String("domain", domain),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("failures", ds.Failures),
	)
	telemetry.SetBreakerState(domain, string(to))
}
