package mpp

import (
	"math/rand"
	"time"
)

// Rand is the single random stream of an optimization run. It is threaded
// explicitly through kernel selection, proposals and acceptance draws and is
// not safe for concurrent use.
type Rand struct {
	rng  *rand.Rand
	seed int64
}

// NewRand creates a reproducible stream from seed
func NewRand(seed int64) *Rand {
	return &Rand{
		rng:  rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// NewWallClockRand creates a stream seeded from the current time
func NewWallClockRand() *Rand {
	return NewRand(time.Now().UnixNano())
}

// Seed returns the seed the stream was created with
func (r *Rand) Seed() int64 {
	return r.seed
}

// Float64 returns a random float64 in [0.0, 1.0)
func (r *Rand) Float64() float64 {
	return r.rng.Float64()
}

// Intn returns a random int in [0, n)
func (r *Rand) Intn(n int) int {
	return r.rng.Intn(n)
}

// Int63 returns a non-negative random int64, used to seed nested generators
func (r *Rand) Int63() int64 {
	return r.rng.Int63()
}

// NormFloat64 returns a normally distributed number with mean and stddev
func (r *Rand) NormFloat64(mean, stddev float64) float64 {
	return r.rng.NormFloat64()*stddev + mean
}

// Uniform returns a uniformly distributed number in [min, max)
func (r *Rand) Uniform(min, max float64) float64 {
	return min + r.rng.Float64()*(max-min)
}
