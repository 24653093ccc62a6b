package mimic

import (
	"math/rand/v2"
)

// Rand is the randomness source consumed by the core.
//
// *rand.Rand satisfies it. Implementations are not required to be
// concurrency-safe; the Coordinator serializes access.
type Rand interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// NewRand returns a deterministic PCG-backed source.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Ratio is a num/den probability gate.
type Ratio struct {
	Num int
	Den int
}

// Roll reports whether one draw falls inside the ratio.
func (r Ratio) Roll(rng Rand) bool {
	if r.Den <= 0 || r.Num <= 0 {
		return false
	}
	if r.Num >= r.Den {
		return true
	}

	return rng.IntN(r.Den) < r.Num
}

func pick[T any](rng Rand, items []T) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}

	return items[rng.IntN(len(items))], true
}
