package utils

import (
	"math/rand"
	"time"
)

// RandomDuration returns a uniformly random duration in [lo, hi].
func RandomDuration(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := int64(hi - lo)
	if rng == nil {
		return lo + time.Duration(rand.Int63n(span+1))
	}
	return lo + time.Duration(rng.Int63n(span+1))
}

// NewRand returns a generator seeded from the clock, or from seed when it is non-zero.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
