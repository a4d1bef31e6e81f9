// Package interaction generates humanlike scroll, pointer and keyboard
// sequences for the active session persona.
package interaction

import (
	"sync"
	"time"

	"github.com/JakeFAU/humancrawl/internal/behavior"
	"github.com/JakeFAU/humancrawl/internal/clock/system"
	"github.com/JakeFAU/humancrawl/internal/stats"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Simulator produces interaction patterns shaped by the session persona,
// its fatigue and the hour of day.
type Simulator struct {
	session *behavior.Session
	sampler *stats.Sampler
	clock   Clock

	mu          sync.Mutex
	tierSession string
	tier        typingTier
	sessionWPM  float64
}

// New builds a Simulator for session.
func New(session *behavior.Session, sampler *stats.Sampler, clock Clock) *Simulator {
	if clock == nil {
		clock = system.New()
	}
	return &Simulator{session: session, sampler: sampler, clock: clock}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
