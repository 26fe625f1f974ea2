package utils

import (
	"math/rand"
	"sync"
	"time"
)

// RandSource is a seeded random number generator safe for concurrent use.
// Models draw exogenous noise from it and the policy initializer draws
// its starting weights from it, so a fixed seed reproduces a whole run.
type RandSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandSource creates a new random source with the given seed.
// A zero seed is replaced by the current time.
func NewRandSource(seed int64) *RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandSource{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// NormFloat64 returns one normal sample with the given mean and stddev.
func (r *RandSource) NormFloat64(mean, stddev float64) float64 {
	var one [1]float64
	return r.FillNormal(one[:], mean, stddev)[0]
}

// FillNormal overwrites dst with normal samples and returns it.
func (r *RandSource) FillNormal(dst []float64, mean, stddev float64) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rng.NormFloat64()*stddev + mean
	}
	return dst
}

// FillUniform overwrites dst with samples from [lo, hi) and returns it.
func (r *RandSource) FillUniform(dst []float64, lo, hi float64) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = lo + r.rng.Float64()*(hi-lo)
	}
	return dst
}
