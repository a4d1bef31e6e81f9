// Package stats provides the random source and the statistical samplers used
// to add humanlike noise to timing and interaction decisions.
package stats

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// Source yields uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

// PCGSource is a goroutine-safe Source backed by a PCG generator.
type PCGSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource returns a Source seeded from crypto/rand.
func NewSource() *PCGSource {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to a
		// runtime-seeded generator rather than a fixed one.
		return &PCGSource{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	}
	return NewSeededSource(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))
}

// NewSeededSource returns a deterministic Source, used by tests.
func NewSeededSource(seed1, seed2 uint64) *PCGSource {
	return &PCGSource{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Float64 returns a uniform float in [0, 1).
func (s *PCGSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Sequence replays a fixed list of values, cycling when exhausted. It makes
// branch decisions deterministic in tests.
type Sequence struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSequence returns a Sequence over values. An empty list always yields 0.5.
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

// Float64 returns the next value in the sequence.
func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0.5
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}
