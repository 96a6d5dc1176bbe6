// Package entropy provides the simulation's deterministic random streams.
// Every stochastic decision draws from a stream derived from the run seed,
// a stream name and the cycle, so two runs with the same seed agree exactly.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	mrand "math/rand"

	"github.com/ojrac/opensimplex-go"
)

// Source derives named random streams from one seed.
type Source struct {
	seed  int64
	noise opensimplex.Noise
}

// New creates a source for a run seed.
func New(seed int64) *Source {
	return &Source{seed: seed, noise: opensimplex.New(seed + 100)}
}

// Seed returns the run seed.
func (s *Source) Seed() int64 { return s.seed }

// Stream returns a generator for a named stream in a given cycle. The same
// (seed, name, cycle) always yields the same sequence.
func (s *Source) Stream(name string, cycle uint64) *mrand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(s.seed))
	binary.LittleEndian.PutUint64(buf[8:], cycle)
	_, _ = h.Write(buf[:])
	return mrand.New(mrand.NewSource(int64(h.Sum64())))
}

// DemandNoise returns smooth noise in [-1, 1] for an agent at a cycle.
// Neighbouring cycles give correlated values, so demand drifts instead of
// jumping.
func (s *Source) DemandNoise(agent uint64, cycle uint64) float64 {
	return s.noise.Eval2(float64(cycle)*0.15, float64(agent)*1.7)
}

// Symmetric returns a uniform draw in [-1, 1).
func Symmetric(r *mrand.Rand) float64 {
	return r.Float64()*2 - 1
}

// RandomSeed picks a seed from crypto/rand for runs that did not set one.
// The chosen seed is recorded with the run so it can be replayed.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
