package game

import "hash/fnv"

// RNG is the mulberry32 generator seeded from the FNV-1a hash of a string.
// Client and server derive identical sequences from the same seed.
type RNG struct {
	state uint32
}

// NewRNG seeds a generator from seed.
func NewRNG(seed string) *RNG {
	h := fnv.New32a()
	h.Write([]byte(seed))
	return &RNG{state: h.Sum32()}
}

// Float64 returns the next value in [0, 1).
func (r *RNG) Float64() float64 {
	r.state += 0x6D2B79F5
	t := r.state
	t = (t ^ t>>15) * (t | 1)
	t ^= t + (t^t>>7)*(t|61)
	return float64(t^t>>14) / 4294967296.0
}
