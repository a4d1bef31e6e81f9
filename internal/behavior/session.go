package behavior

import (
	"sync"
	"time"

	"github.com/JakeFAU/humancrawl/internal/id/uuid"
	"github.com/JakeFAU/humancrawl/internal/stats"
)

// FatigueStep is added to the fatigue level on every reading-time estimate.
const FatigueStep = 0.1

// SessionSnapshot is a copy of the session state at one instant.
type SessionSnapshot struct {
	ID             string
	Profile        Profile
	Started        time.Time
	PagesVisited   int
	Fatigue        float64
	TotalTimeSpent time.Duration
	TargetPages    int
}

// Session is the mutable state of one simulated browsing session.
type Session struct {
	mu      sync.Mutex
	sampler *stats.Sampler
	state   SessionSnapshot
}

// NewSession starts a session with a freshly drawn persona.
func NewSession(sampler *stats.Sampler, now time.Time) *Session {
	s := &Session{sampler: sampler}
	s.Reset(now)
	return s
}

// Reset draws a new persona and clears fatigue and counters.
func (s *Session) Reset(now time.Time) {
	profile := SelectProfile(s.sampler)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionSnapshot{
		ID:          uuid.New(),
		Profile:     profile,
		Started:     now,
		TargetPages: s.sampler.IntRange(profile.PagesPerSession[0], profile.PagesPerSession[1]),
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Profile returns the session persona.
func (s *Session) Profile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Profile
}

// Fatigue returns the current fatigue level.
func (s *Session) Fatigue() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Fatigue
}

// PagesVisited returns the number of pages visited so far.
func (s *Session) PagesVisited() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.PagesVisited
}

// AddFatigue raises fatigue by step, saturating at 1. Fatigue never falls
// within a session.
func (s *Session) AddFatigue(step float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step > 0 {
		s.state.Fatigue += step
	}
	if s.state.Fatigue > 1 {
		s.state.Fatigue = 1
	}
	return s.state.Fatigue
}

// RecordPage counts a visited page and the time spent on it.
func (s *Session) RecordPage(spent time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PagesVisited++
	if spent > 0 {
		s.state.TotalTimeSpent += spent
	}
}
