package stats

import "math"

// Sampler draws variates from common distributions on top of a Source.
type Sampler struct {
	src Source
}

// NewSampler wraps src. A nil src gets a crypto-seeded source.
func NewSampler(src Source) *Sampler {
	if src == nil {
		src = NewSource()
	}
	return &Sampler{src: src}
}

// Float64 returns a uniform float in [0, 1).
func (s *Sampler) Float64() float64 {
	return s.src.Float64()
}

// Uniform returns a float in [lo, hi).
func (s *Sampler) Uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + s.src.Float64()*(hi-lo)
}

// Chance reports true with probability p.
func (s *Sampler) Chance(p float64) bool {
	return s.src.Float64() < p
}

// Intn returns an int in [0, n). n <= 0 yields 0.
func (s *Sampler) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	v := int(s.src.Float64() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}

// IntRange returns an int in [lo, hi] inclusive.
func (s *Sampler) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.Intn(hi-lo+1)
}

// Normal draws from N(mean, stddev²) using the Box–Muller transform.
func (s *Sampler) Normal(mean, stddev float64) float64 {
	u1 := 1 - s.src.Float64() // (0, 1]
	u2 := s.src.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + z*stddev
}

// Gamma draws from Gamma(shape, scale) using Marsaglia–Tsang. Shapes below
// one are boosted and corrected with the u^(1/shape) trick.
func (s *Sampler) Gamma(shape, scale float64) float64 {
	if shape <= 0 || scale <= 0 {
		return 0
	}
	if shape < 1 {
		u := 1 - s.src.Float64()
		return s.Gamma(shape+1, scale) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := s.Normal(0, 1)
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := 1 - s.src.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// Weighted picks an index with probability proportional to weights[i].
// Non-positive weights are never chosen unless every weight is non-positive,
// in which case index 0 is returned.
func (s *Sampler) Weighted(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return 0
	}
	roll := s.src.Float64() * total
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		if roll < w {
			return i
		}
		roll -= w
	}
	return last
}
