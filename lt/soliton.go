package lt

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// DegreeDistribution picks how many blocks a droplet combines
type DegreeDistribution interface {
	// Sample returns a degree in [1, K]
	Sample() int
}

// RobustSoliton is the robust soliton distribution over [1, K] with its
// cumulative table precomputed at construction.
type RobustSoliton struct {
	k   int
	cdf []float64 // cdf[i] is the probability of a degree <= i+1
	rng *rand.Rand
}

// NewRobustSoliton builds the robust soliton distribution for k blocks.
// c tunes the expected ripple size and delta bounds the decoding failure
// probability.
func NewRobustSoliton(k int, c, delta float64, rng *rand.Rand) (*RobustSoliton, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: block count %d", ErrInvalidDistribution, k)
	}
	if !(c > 0) {
		return nil, fmt.Errorf("%w: c must be positive, got %v", ErrInvalidDistribution, c)
	}
	if !(delta > 0 && delta < 1) {
		return nil, fmt.Errorf("%w: delta must be in (0,1), got %v", ErrInvalidDistribution, delta)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidDistribution)
	}

	return &RobustSoliton{
		k:   k,
		cdf: robustSolitonCDF(k, c, delta),
		rng: rng,
	}, nil
}

// robustSolitonCDF computes the cumulative distribution of rho+tau, normalized
func robustSolitonCDF(k int, c, delta float64) []float64 {
	cdf := make([]float64, k)
	if k == 1 {
		cdf[0] = 1
		return cdf
	}

	kf := float64(k)
	s := c * math.Log(kf/delta) * math.Sqrt(kf)

	// The spike sits at K/S; keep it inside [1, K]
	pivot := int(math.Floor(kf / s))
	pivot = max(1, min(pivot, k))

	mu := make([]float64, k)
	var beta float64
	for i := 1; i <= k; i++ {
		// Ideal soliton component
		var rho float64
		if i == 1 {
			rho = 1 / kf
		} else {
			rho = 1 / (float64(i) * float64(i-1))
		}

		// Robust correction
		var tau float64
		switch {
		case i < pivot:
			tau = s / (float64(i) * kf)
		case i == pivot:
			tau = math.Max(0, s*math.Log(s/delta)/kf)
		}

		mu[i-1] = rho + tau
		beta += mu[i-1]
	}

	var acc float64
	for i := range mu {
		acc += mu[i] / beta
		cdf[i] = acc
	}
	// Rounding must not leave a gap at the top of the table
	cdf[k-1] = 1
	return cdf
}

// Sample draws a degree from the distribution
func (r *RobustSoliton) Sample() int {
	if r.k == 1 {
		return 1
	}
	u := r.rng.Float64()
	// Smallest i with cdf[i] >= u
	i := sort.SearchFloat64s(r.cdf, u)
	return max(1, min(i+1, r.k))
}

// K returns the number of blocks the distribution was built for
func (r *RobustSoliton) K() int {
	return r.k
}

// CDF returns a copy of the cumulative distribution table
func (r *RobustSoliton) CDF() []float64 {
	out := make([]float64, len(r.cdf))
	copy(out, r.cdf)
	return out
}

// IdealSoliton is the ideal soliton distribution. Without the robust
// correction the ripple tends to run dry, so it is mostly useful for comparison.
type IdealSoliton struct {
	k   int
	rng *rand.Rand
}

// NewIdealSoliton builds the ideal soliton distribution for k blocks
func NewIdealSoliton(k int, rng *rand.Rand) (*IdealSoliton, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: block count %d", ErrInvalidDistribution, k)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidDistribution)
	}
	return &IdealSoliton{k: k, rng: rng}, nil
}

// Sample draws a degree from the distribution
func (s *IdealSoliton) Sample() int {
	u := s.rng.Float64()
	if u < 1/float64(s.k) {
		return 1
	}
	d := int(math.Ceil(1 / u))
	return max(1, min(d, s.k))
}
