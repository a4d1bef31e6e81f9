// Package learning implements the tabular Q-learner that nudges pacing
// decisions based on how past requests fared.
package learning

import (
	"fmt"
	"math"
	"sync"

	"github.com/JakeFAU/humancrawl/internal/behavior"
	"github.com/JakeFAU/humancrawl/internal/stats"
)

// Defaults for Config.
const (
	DefaultLearningRate    = 0.1
	DefaultDiscountFactor  = 0.9
	DefaultEpsilon         = 0.1
	DefaultReplayCapacity  = 1000
	DefaultReplayThreshold = 50
	DefaultReplayBatch     = 5

	// MaxPagesBucket caps the pages-visited dimension of the state key.
	MaxPagesBucket = 20
)

// Action is a learner action.
type Action string

// Actions available to the learner.
const (
	Explore Action = "explore"
	Exploit Action = "exploit"
)

var actions = []Action{Explore, Exploit}

// StateKey identifies a discretized state.
type StateKey string

// State is the observation the learner conditions on.
type State struct {
	Profile      behavior.ProfileName
	Fatigue      float64
	Hour         int
	PagesVisited int
}

// Key discretizes the state into a table key.
func (s State) Key() StateKey {
	pages := s.PagesVisited
	if pages > MaxPagesBucket {
		pages = MaxPagesBucket
	}
	if pages < 0 {
		pages = 0
	}
	bucket := int(math.Floor(s.Fatigue * 10))
	return StateKey(fmt.Sprintf("%s|%d|%d|%d", s.Profile, bucket, s.Hour, pages))
}

// Config tunes the learner.
type Config struct {
	LearningRate    float64
	DiscountFactor  float64
	Epsilon         float64
	ReplayCapacity  int
	ReplayThreshold int
	ReplayBatch     int
}

func (c Config) withDefaults() Config {
	if c.LearningRate <= 0 {
		c.LearningRate = DefaultLearningRate
	}
	if c.DiscountFactor < 0 {
		c.DiscountFactor = DefaultDiscountFactor
	}
	if c.Epsilon < 0 {
		c.Epsilon = DefaultEpsilon
	}
	if c.ReplayCapacity <= 0 {
		c.ReplayCapacity = DefaultReplayCapacity
	}
	if c.ReplayThreshold <= 0 {
		c.ReplayThreshold = DefaultReplayThreshold
	}
	if c.ReplayBatch <= 0 {
		c.ReplayBatch = DefaultReplayBatch
	}
	return c
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		LearningRate:    DefaultLearningRate,
		DiscountFactor:  DefaultDiscountFactor,
		Epsilon:         DefaultEpsilon,
		ReplayCapacity:  DefaultReplayCapacity,
		ReplayThreshold: DefaultReplayThreshold,
		ReplayBatch:     DefaultReplayBatch,
	}
}

// Learner is a tabular Q-learner with experience replay. It is safe for
// concurrent use.
type Learner struct {
	mu      sync.Mutex
	cfg     Config
	sampler *stats.Sampler
	q       map[StateKey]map[Action]float64
	replay  *ReplayBuffer
}

// NewLearner builds a Learner. Unset rates and sizes take defaults; a zero
// epsilon or discount factor is honoured.
func NewLearner(cfg Config, sampler *stats.Sampler) *Learner {
	cfg = cfg.withDefaults()
	if sampler == nil {
		sampler = stats.NewSampler(nil)
	}
	return &Learner{
		cfg:     cfg,
		sampler: sampler,
		q:       make(map[StateKey]map[Action]float64),
		replay:  NewReplayBuffer(cfg.ReplayCapacity),
	}
}

// SelectAction applies the epsilon-greedy policy.
func (l *Learner) SelectAction(state StateKey) Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sampler.Chance(l.cfg.Epsilon) {
		return actions[l.sampler.Intn(len(actions))]
	}
	best := Exploit
	bestValue := l.q[state][Exploit]
	for _, a := range actions {
		if v := l.q[state][a]; v > bestValue {
			best, bestValue = a, v
		}
	}
	return best
}

// Learn applies one TD update, records the experience, and replays a batch of
// past experiences once the buffer holds more than the replay threshold.
func (l *Learner) Learn(state StateKey, action Action, reward float64, next StateKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.update(state, action, reward, next)
	l.replay.Add(Experience{State: state, Action: action, Reward: reward, Next: next})
	if l.replay.Len() <= l.cfg.ReplayThreshold {
		return
	}
	for _, exp := range l.replay.Sample(l.cfg.ReplayBatch, l.sampler) {
		l.update(exp.State, exp.Action, exp.Reward, exp.Next)
	}
}

// Adjustment returns a multiplicative correction. With probability epsilon it
// is a random value in [-0.2, 0.2]; otherwise Q(state, action) scaled by 0.1.
func (l *Learner) Adjustment(state StateKey, action Action) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sampler.Chance(l.cfg.Epsilon) {
		return l.sampler.Uniform(-0.2, 0.2)
	}
	return l.q[state][action] * 0.1
}

// Q returns the current value for (state, action).
func (l *Learner) Q(state StateKey, action Action) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q[state][action]
}

// Size returns the number of states in the table.
func (l *Learner) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.q)
}

// ReplayLen returns the number of buffered experiences.
func (l *Learner) ReplayLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.replay.Len()
}

func (l *Learner) update(state StateKey, action Action, reward float64, next StateKey) {
	row, ok := l.q[state]
	if !ok {
		row = make(map[Action]float64, len(actions))
		l.q[state] = row
	}
	current := row[action]
	target := reward + l.cfg.DiscountFactor*l.maxQ(next)
	row[action] = current + l.cfg.LearningRate*(target-current)
}

func (l *Learner) maxQ(state StateKey) float64 {
	row := l.q[state]
	best := math.Inf(-1)
	for _, a := range actions {
		if v := row[a]; v > best {
			best = v
		}
	}
	return best
}
