package lt

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// Droplet is one encoded symbol: the XOR of the blocks named by Indices
type Droplet struct {
	Degree  int    // Number of blocks combined, always len(Indices)
	Indices []int  // Distinct block indices in [0, K)
	Payload []byte // XOR of the named blocks, chunkSize bytes

	// Seeded droplets derive Indices from Seed, so the wire only needs to
	// carry the seed and the degree
	Seeded bool
	Seed   uint64
}

// Validate checks the droplet against the geometry of a K-block, chunkSize
// partition. Errors wrap ErrMalformedDroplet.
func (d Droplet) Validate(k, chunkSize int) error {
	if d.Degree < 1 || d.Degree > k {
		return fmt.Errorf("%w: degree %d outside [1, %d]", ErrMalformedDroplet, d.Degree, k)
	}
	if len(d.Indices) != d.Degree {
		return fmt.Errorf("%w: degree %d but %d indices", ErrMalformedDroplet, d.Degree, len(d.Indices))
	}
	if len(d.Payload) != chunkSize {
		return fmt.Errorf("%w: payload is %d bytes, expected %d", ErrMalformedDroplet, len(d.Payload), chunkSize)
	}
	seen := make(map[int]struct{}, len(d.Indices))
	for _, idx := range d.Indices {
		if idx < 0 || idx >= k {
			return fmt.Errorf("%w: index %d outside [0, %d)", ErrMalformedDroplet, idx, k)
		}
		if _, dup := seen[idx]; dup {
			return fmt.Errorf("%w: duplicate index %d", ErrMalformedDroplet, idx)
		}
		seen[idx] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy of the droplet
func (d Droplet) Clone() Droplet {
	d.Indices = slices.Clone(d.Indices)
	d.Payload = slices.Clone(d.Payload)
	return d
}

// SeededIndices expands a seed into degree distinct block indices in [0, k).
// The mapping is deterministic so the sender and the receiver agree on it.
func SeededIndices(seed uint64, k, degree int) []int {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return sampleIndices(rng, k, degree)
}

// sampleIndices picks degree distinct values from [0, k) uniformly at random
// using Floyd's algorithm. The result is sorted.
func sampleIndices(rng *rand.Rand, k, degree int) []int {
	degree = max(0, min(degree, k))
	chosen := make(map[int]struct{}, degree)
	indices := make([]int, 0, degree)
	for j := k - degree; j < k; j++ {
		t := rng.IntN(j + 1)
		if _, taken := chosen[t]; taken {
			t = j
		}
		chosen[t] = struct{}{}
		indices = append(indices, t)
	}
	slices.Sort(indices)
	return indices
}
