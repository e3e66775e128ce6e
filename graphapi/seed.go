package graphapi

import (
	"log/slog"
	"math/rand/v2"
	"sync"
)

// Seeds are 15 digit numbers
const (
	SeedMin int64 = 100_000_000_000_000
	SeedMax int64 = 999_999_999_999_999
)

// SeedSource hands out sampler seeds
type SeedSource interface {
	NextSeed() int64
}

// RandomSeedSource draws seeds uniformly from [SeedMin, SeedMax].
// It is safe for concurrent use. Not suitable for anything security related.
type RandomSeedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSeedSource returns a source backed by the runtime's randomly seeded generator
func NewRandomSeedSource() *RandomSeedSource {
	return &RandomSeedSource{}
}

// NewSeededSource returns a reproducible source
func NewSeededSource(seed uint64) *RandomSeedSource {
	return &RandomSeedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandomSeedSource) NextSeed() int64 {
	if s.rng == nil {
		return SeedMin + rand.Int64N(SeedMax-SeedMin+1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return SeedMin + s.rng.Int64N(SeedMax-SeedMin+1)
}

// ApplySeed writes seed into the seed target of w
func ApplySeed(w Workflow, target NodeInput, seed int64, mode IntegrityMode, logger *slog.Logger) error {
	return SetLiteral(w, "seed", target, seed, mode, logger)
}
