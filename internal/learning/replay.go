package learning

import "github.com/JakeFAU/humancrawl/internal/stats"

// Experience is one observed transition.
type Experience struct {
	State  StateKey
	Action Action
	Reward float64
	Next   StateKey
}

// ReplayBuffer is a fixed-capacity FIFO of past experiences. Once full, each
// new entry evicts the oldest.
type ReplayBuffer struct {
	items []Experience
	start int
	size  int
}

// NewReplayBuffer allocates a buffer holding up to capacity entries.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &ReplayBuffer{items: make([]Experience, capacity)}
}

// Add appends exp, evicting the oldest entry on overflow.
func (b *ReplayBuffer) Add(exp Experience) {
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.start+b.size)%capacity] = exp
		b.size++
		return
	}
	b.items[b.start] = exp
	b.start = (b.start + 1) % capacity
}

// Len returns the number of stored experiences.
func (b *ReplayBuffer) Len() int {
	return b.size
}

// Cap returns the buffer capacity.
func (b *ReplayBuffer) Cap() int {
	return len(b.items)
}

// At returns the i-th oldest experience.
func (b *ReplayBuffer) At(i int) Experience {
	return b.items[(b.start+i)%len(b.items)]
}

// Sample draws n experiences uniformly with replacement.
func (b *ReplayBuffer) Sample(n int, s *stats.Sampler) []Experience {
	if b.size == 0 || n <= 0 {
		return nil
	}
	out := make([]Experience, n)
	for i := range out {
		out[i] = b.At(s.Intn(b.size))
	}
	return out
}
