package transforms

import (
	"math/rand/v2"
	"sync"
	"time"
)

// RNG is a random source safe for use by concurrent pipelines.
type RNG struct {
	mu   sync.Mutex
	r    *rand.Rand
	seed uint64
}

// NewRNG returns a generator seeded with seed.
func NewRNG(seed uint64) *RNG {
	return &RNG{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), seed: seed}
}

// Fork returns an independent generator for stream, derived from the seed
// only. Forks with the same seed and stream produce the same values no
// matter how much the parent has been used.
func (g *RNG) Fork(stream uint64) *RNG {
	return &RNG{r: rand.New(rand.NewPCG(g.seed, stream)), seed: g.seed}
}

// Float64 returns a value in [0, 1).
func (g *RNG) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Float64()
}

// Uniform returns a value in [lo, hi).
func (g *RNG) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*g.Float64()
}

// IntN returns a value in [0, n). n must be positive.
func (g *RNG) IntN(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.IntN(n)
}

var (
	defaultMu  sync.Mutex
	defaultRNG = NewRNG(uint64(time.Now().UnixNano()))
)

// SetDeterminism reseeds the generator used by transforms built without
// their own RNG.
func SetDeterminism(seed uint64) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRNG = NewRNG(seed)
}

func rngOrDefault(g *RNG) *RNG {
	if g != nil {
		return g
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRNG
}
