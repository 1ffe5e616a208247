// File: utils/random_test.go
package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRandomDuration_StaysInRange(t *testing.T) {
	rng := NewRand(42)
	lo, hi := 295*time.Millisecond, time.Second
	for i := 0; i < 500; i++ {
		d := RandomDuration(rng, lo, hi)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestRandomDuration_DegenerateRange(t *testing.T) {
	assert.Equal(t, time.Second, RandomDuration(nil, time.Second, time.Second))
	assert.Equal(t, time.Second, RandomDuration(nil, time.Second, time.Millisecond))
}

func TestNewRand_SeedIsDeterministic(t *testing.T) {
	a, b := NewRand(7), NewRand(7)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Int63(), b.Int63())
	}
}
