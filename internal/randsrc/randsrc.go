// Package randsrc provides the seedable random source behind the mock
// weather values, market jitter, and the placeholder crop health score.
// Tests seed it to assert deterministic bounds; production seeds it from
// the runtime.
package randsrc

import (
	"math/rand/v2"
	"sync"
)

// Source is the subset of [rand.Rand] used by the lookup fallbacks.
type Source interface {
	// IntN returns a uniform int in [0, n). It panics if n <= 0.
	IntN(n int) int
	// Float64 returns a uniform float64 in [0.0, 1.0).
	Float64() float64
}

// locked wraps a *rand.Rand so it is safe for concurrent handlers.
type locked struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a concurrency-safe Source seeded with seed.
func New(seed uint64) Source {
	return &locked{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Runtime returns a concurrency-safe Source seeded from the runtime.
func Runtime() Source {
	return &locked{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

func (l *locked) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Between returns a uniform int in the inclusive range [lo, hi].
func Between(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + src.IntN(hi-lo+1)
}

// Uniform returns a uniform float64 in [lo, hi).
func Uniform(src Source, lo, hi float64) float64 {
	return lo + (hi-lo)*src.Float64()
}

// Choice returns a uniformly chosen element of items. items must be non-empty.
func Choice[T any](src Source, items []T) T {
	return items[src.IntN(len(items))]
}

// Fixed is a Source that always returns the same values. It exists for
// tests that need to pin a branch (a specific jitter sign, a specific
// condition) rather than assert bounds.
type Fixed struct {
	Int   int
	Float float64
}

// IntN returns f.Int clamped into [0, n).
func (f Fixed) IntN(n int) int {
	if f.Int < 0 {
		return 0
	}
	if f.Int >= n {
		return n - 1
	}
	return f.Int
}

// Float64 returns f.Float.
func (f Fixed) Float64() float64 { return f.Float }
