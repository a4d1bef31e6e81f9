// Package timing decides how long the simulated visitor dwells on a page and
// how long it waits between actions.
package timing

import (
	"math"
	"sync"
	"time"

	"github.com/JakeFAU/humancrawl/internal/behavior"
	"github.com/JakeFAU/humancrawl/internal/clock/system"
	"github.com/JakeFAU/humancrawl/internal/learning"
	"github.com/JakeFAU/humancrawl/internal/stats"
)

// Action is the kind of step the delay precedes.
type Action string

// Known actions.
const (
	Navigate Action = "navigate"
	Search   Action = "search"
	Click    Action = "click"
	Scroll   Action = "scroll"
	Form     Action = "form"
)

type secondsRange struct{ lo, hi float64 }

var actionRanges = map[Action]secondsRange{
	Navigate: {1.5, 4.5},
	Search:   {2.0, 8.0},
	Click:    {0.5, 2.0},
	Scroll:   {0.3, 1.2},
	Form:     {3.0, 10.0},
}

const (
	baseWPM            = 238.0
	wpmVariance        = 0.18
	minDelaySeconds    = 0.2
	distractionChance  = 0.05
	impatienceChance   = 0.08
	gammaShape         = 2.0
	gammaScale         = 1.0
	beyondTargetChance = 0.2
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// PageMetrics describes the content a reading time is estimated for.
type PageMetrics struct {
	WordCount  int
	ImageCount int
	// Complexity is a 0..1 estimate of how dense the content is.
	Complexity float64
}

// Config holds the attention bounds and pacing scale.
type Config struct {
	MinAttention  time.Duration
	MaxAttention  time.Duration
	ImageViewTime time.Duration
	// Scale multiplies every returned duration. Zero disables pacing.
	Scale float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinAttention:  2 * time.Second,
		MaxAttention:  300 * time.Second,
		ImageViewTime: 3 * time.Second,
		Scale:         1,
	}
}

// Decision is the learner state/action pair behind the last timing choice.
type Decision struct {
	State  learning.StateKey
	Action learning.Action
}

// Model computes humanlike durations for one session.
type Model struct {
	mu         sync.Mutex
	cfg        Config
	session    *behavior.Session
	sampler    *stats.Sampler
	learner    *learning.Learner
	clock      Clock
	sessionWPM float64
	last       Decision
}

// New builds a Model over session. learner may be nil, in which case no
// learned correction is applied.
func New(cfg Config, session *behavior.Session, sampler *stats.Sampler, learner *learning.Learner, clock Clock) *Model {
	if cfg.MinAttention <= 0 {
		cfg.MinAttention = DefaultConfig().MinAttention
	}
	if cfg.MaxAttention < cfg.MinAttention {
		cfg.MaxAttention = DefaultConfig().MaxAttention
	}
	if cfg.ImageViewTime <= 0 {
		cfg.ImageViewTime = DefaultConfig().ImageViewTime
	}
	if cfg.Scale < 0 {
		cfg.Scale = 1
	}
	if clock == nil {
		clock = system.New()
	}
	m := &Model{
		cfg:     cfg,
		session: session,
		sampler: sampler,
		learner: learner,
		clock:   clock,
	}
	m.sessionWPM = m.drawWPM()
	return m
}

// ResetSession starts a new session: new persona, zero fatigue, new reading
// speed draw.
func (m *Model) ResetSession() {
	m.session.Reset(m.clock.Now())
	m.mu.Lock()
	m.sessionWPM = m.drawWPM()
	m.last = Decision{}
	m.mu.Unlock()
}

// SetScale changes the pacing scale.
func (m *Model) SetScale(scale float64) {
	if scale < 0 {
		return
	}
	m.mu.Lock()
	m.cfg.Scale = scale
	m.mu.Unlock()
}

// Scale returns the pacing scale.
func (m *Model) Scale() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Scale
}

// Session returns the session the model paces.
func (m *Model) Session() *behavior.Session {
	return m.session
}

// LastDecision returns the learner state and action used by the most recent
// duration that consulted the learner.
func (m *Model) LastDecision() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// StateKey returns the learner key for the current session state.
func (m *Model) StateKey() learning.StateKey {
	snap := m.session.Snapshot()
	return learning.State{
		Profile:      snap.Profile.Name,
		Fatigue:      snap.Fatigue,
		Hour:         m.clock.Now().Hour(),
		PagesVisited: snap.PagesVisited,
	}.Key()
}

// ReadingTime estimates how long the visitor reads a page and advances
// fatigue by one step.
func (m *Model) ReadingTime(pm PageMetrics) time.Duration {
	snap := m.session.Snapshot()
	profile := snap.Profile
	hour := m.clock.Now().Hour()

	m.mu.Lock()
	wpm := m.sessionWPM * profile.ReadingSpeedMult
	m.mu.Unlock()

	seconds := 0.0
	if pm.WordCount > 0 && wpm > 0 {
		seconds = float64(pm.WordCount) / wpm * 60
	}
	if pm.ImageCount > 0 {
		seconds += float64(pm.ImageCount) * m.cfg.ImageViewTime.Seconds() * m.sampler.Uniform(0.8, 1.2) / profile.Speed()
	}
	complexity := clamp(pm.Complexity, 0, 1)
	seconds *= 1 + complexity*m.sampler.Uniform(0.075, 0.155)
	seconds *= behavior.CircadianMultiplier(hour)
	seconds *= 1 + snap.Fatigue*m.sampler.Uniform(0.18, 0.22)
	seconds *= m.learnedMultiplier()
	seconds *= m.sampler.Uniform(0.72, 1.38)

	lo := m.cfg.MinAttention.Seconds() * profile.AttentionSpanMult * m.sampler.Uniform(0.8, 1.2)
	hi := m.cfg.MaxAttention.Seconds() * profile.AttentionSpanMult * m.sampler.Uniform(0.8, 1.25)
	if hi < lo {
		hi = lo
	}
	seconds = clamp(seconds, lo, hi)

	m.session.AddFatigue(behavior.FatigueStep)
	return m.scaled(seconds)
}

// InterRequestDelay draws the pause before the next action.
func (m *Model) InterRequestDelay(action Action) time.Duration {
	r, ok := actionRanges[action]
	if !ok {
		r = actionRanges[Navigate]
	}
	snap := m.session.Snapshot()
	hour := m.clock.Now().Hour()

	g := m.sampler.Gamma(gammaShape, gammaScale)
	frac := g / (g + gammaShape*gammaScale)
	seconds := r.lo + frac*(r.hi-r.lo)
	seconds *= behavior.CircadianMultiplier(hour)
	seconds *= 1 + snap.Fatigue*0.3
	seconds /= snap.Profile.Speed()
	seconds *= m.learnedMultiplier()

	switch {
	case m.sampler.Chance(distractionChance):
		seconds *= m.sampler.Uniform(2, 3)
	case m.sampler.Chance(impatienceChance):
		seconds *= m.sampler.Uniform(0.4, 0.6)
	}
	d := m.scaled(seconds)
	// the floor holds at every stealth level; only a zero scale disables it
	if floor := time.Duration(minDelaySeconds * float64(time.Second)); d > 0 && d < floor {
		d = floor
	}
	return d
}

// ShouldContinueBrowsing decides whether the visitor keeps going after the
// pages already visited in this session.
func (m *Model) ShouldContinueBrowsing() bool {
	snap := m.session.Snapshot()
	if snap.PagesVisited == 0 {
		return true
	}
	if snap.PagesVisited == 1 && m.sampler.Chance(snap.Profile.BounceRate) {
		return false
	}
	target := snap.TargetPages
	if target < 1 {
		target = 1
	}
	var p float64
	if snap.PagesVisited < target {
		p = 0.95 - 0.5*float64(snap.PagesVisited)/float64(target)
	} else {
		p = beyondTargetChance
	}
	p /= behavior.CircadianMultiplier(m.clock.Now().Hour())
	p *= 1 - 0.3*snap.Fatigue
	if m.learner != nil {
		state := m.StateKey()
		action := m.learner.SelectAction(state)
		p *= clamp(1+m.learner.Adjustment(state, action), 0.5, 1.5)
	}
	return m.sampler.Chance(clamp(p, 0, 1))
}

// learnedMultiplier consults the learner and remembers the decision so the
// caller can reward it later. Positive values shorten delays.
func (m *Model) learnedMultiplier() float64 {
	if m.learner == nil {
		return 1
	}
	state := m.StateKey()
	action := m.learner.SelectAction(state)
	adj := m.learner.Adjustment(state, action)
	m.mu.Lock()
	m.last = Decision{State: state, Action: action}
	m.mu.Unlock()
	return clamp(1-adj, 0.5, 1.5)
}

func (m *Model) drawWPM() float64 {
	return baseWPM * m.sampler.Uniform(1-wpmVariance, 1+wpmVariance)
}

func (m *Model) scaled(seconds float64) time.Duration {
	m.mu.Lock()
	scale := m.cfg.Scale
	m.mu.Unlock()
	return time.Duration(seconds * scale * float64(time.Second))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
