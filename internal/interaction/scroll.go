package interaction

import "time"

// ScrollStep is one wheel or keyboard scroll.
type ScrollStep struct {
	// Position is the viewport offset after the step.
	Position int           `json:"position"`
	Distance int           `json:"distance"`
	Pause    time.Duration `json:"pause_ns"`
	// Velocity is in pixels per second.
	Velocity float64 `json:"velocity"`
	Snap     bool    `json:"snap,omitempty"`
}

type scrollTier struct {
	weight float64
	lo, hi int
}

var scrollTiers = []scrollTier{
	{weight: 0.40, lo: 50, hi: 150},   // micro
	{weight: 0.35, lo: 150, hi: 400},  // medium
	{weight: 0.20, lo: 400, hi: 800},  // large
	{weight: 0.05, lo: 800, hi: 1500}, // jump
}

type interestTier struct {
	weight float64
	lo, hi float64
}

var interestTiers = []interestTier{
	{weight: 0.40, lo: 0.5, hi: 0.8}, // skimming
	{weight: 0.35, lo: 0.8, hi: 1.2},
	{weight: 0.20, lo: 1.2, hi: 2.0},
	{weight: 0.05, lo: 2.0, hi: 4.0}, // engrossed
}

const (
	maxScrolls       = 60
	snapScrollChance = 0.08
)

var (
	scrollWeights   = tierWeights(len(scrollTiers), func(i int) float64 { return scrollTiers[i].weight })
	interestWeights = tierWeights(len(interestTiers), func(i int) float64 { return interestTiers[i].weight })
)

func tierWeights(n int, w func(int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = w(i)
	}
	return out
}

// ScrollPattern walks down a page of pageHeight pixels. It stops once the
// page is covered or the scroll budget is spent.
func (s *Simulator) ScrollPattern(pageHeight int) []ScrollStep {
	if pageHeight <= 0 {
		return nil
	}
	profile := s.session.Profile()
	steps := make([]ScrollStep, 0, 16)
	pos := 0
	for pos < pageHeight && len(steps) < maxScrolls {
		tier := scrollTiers[s.sampler.Weighted(scrollWeights)]
		dist := s.sampler.IntRange(tier.lo, tier.hi)
		if remaining := pageHeight - pos; dist > remaining {
			dist = remaining
		}
		pos += dist

		interest := interestTiers[s.sampler.Weighted(interestWeights)]
		pause := s.sampler.Uniform(0.4, 1.2) * s.sampler.Uniform(interest.lo, interest.hi)
		pause *= profile.AttentionSpanMult / profile.ScrollSpeedMult
		velocity := float64(dist) / s.sampler.Uniform(0.2, 0.5) * profile.ScrollSpeedMult

		step := ScrollStep{Position: pos, Distance: dist}
		if s.sampler.Chance(snapScrollChance) {
			step.Snap = true
			velocity *= s.sampler.Uniform(2, 3)
			pause *= s.sampler.Uniform(0.3, 0.5)
		}
		step.Pause = seconds(pause)
		step.Velocity = velocity
		steps = append(steps, step)
	}
	return steps
}
