package lt

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func testRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func TestRobustSolitonCDF(t *testing.T) {
	for _, k := range []int{1, 2, 3, 10, 100, 1000} {
		dist, err := NewRobustSoliton(k, DefaultC, DefaultDelta, testRand(1))
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		cdf := dist.CDF()
		if len(cdf) != k {
			t.Fatalf("k=%d: expected cdf of length %d, got %d", k, k, len(cdf))
		}
		for i := 1; i < len(cdf); i++ {
			if cdf[i] < cdf[i-1] {
				t.Fatalf("k=%d: cdf is not monotone at %d: %v < %v", k, i, cdf[i], cdf[i-1])
			}
		}
		if cdf[k-1] != 1 {
			t.Fatalf("k=%d: cdf must end at 1, got %v", k, cdf[k-1])
		}
		if cdf[0] <= 0 {
			t.Fatalf("k=%d: degree 1 must have positive probability", k)
		}
	}
}

func TestRobustSolitonDegenerate(t *testing.T) {
	dist, err := NewRobustSoliton(1, DefaultC, DefaultDelta, testRand(2))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		if d := dist.Sample(); d != 1 {
			t.Fatalf("expected degree 1 for k=1, got %d", d)
		}
	}
}

func TestRobustSolitonInvalid(t *testing.T) {
	tests := []struct {
		name  string
		k     int
		c     float64
		delta float64
		rng   *rand.Rand
	}{
		{"zero blocks", 0, 0.1, 0.05, testRand(1)},
		{"zero c", 10, 0, 0.05, testRand(1)},
		{"negative c", 10, -1, 0.05, testRand(1)},
		{"zero delta", 10, 0.1, 0, testRand(1)},
		{"delta one", 10, 0.1, 1, testRand(1)},
		{"nan delta", 10, 0.1, math.NaN(), testRand(1)},
		{"nil rng", 10, 0.1, 0.05, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRobustSoliton(tt.k, tt.c, tt.delta, tt.rng)
			if !errors.Is(err, ErrInvalidDistribution) {
				t.Fatalf("expected ErrInvalidDistribution, got %v", err)
			}
		})
	}
}

func TestRobustSolitonShape(t *testing.T) {
	const (
		k       = 100
		samples = 100_000
	)
	dist, err := NewRobustSoliton(k, DefaultC, DefaultDelta, testRand(3))
	if err != nil {
		t.Fatal(err)
	}

	counts := make([]int, k+1)
	for i := 0; i < samples; i++ {
		d := dist.Sample()
		if d < 1 || d > k {
			t.Fatalf("degree %d outside [1, %d]", d, k)
		}
		counts[d]++
	}

	low := 0
	for d := 1; d <= 10; d++ {
		low += counts[d]
	}
	if low*2 <= samples {
		t.Fatalf("expected a majority of degrees <= 10, got %d of %d", low, samples)
	}

	// The spike sits at floor(K/S) = 13 for these parameters
	s := DefaultC * math.Log(k/DefaultDelta) * math.Sqrt(k)
	pivot := int(k / s)
	if counts[pivot]*10 < samples {
		t.Fatalf("expected at least 10%% of degrees at the spike %d, got %d of %d", pivot, counts[pivot], samples)
	}

	// Degree 2 is the single most likely degree
	for d := 1; d <= k; d++ {
		if d != 2 && counts[d] > counts[2] {
			t.Fatalf("degree %d (%d) is more frequent than degree 2 (%d)", d, counts[d], counts[2])
		}
	}
}

func TestIdealSoliton(t *testing.T) {
	const k = 50
	dist, err := NewIdealSoliton(k, testRand(4))
	if err != nil {
		t.Fatal(err)
	}
	ones := 0
	for i := 0; i < 10_000; i++ {
		d := dist.Sample()
		if d < 1 || d > k {
			t.Fatalf("degree %d outside [1, %d]", d, k)
		}
		if d == 1 {
			ones++
		}
	}
	if ones == 0 {
		t.Fatal("expected some degree 1 samples")
	}

	if _, err := NewIdealSoliton(0, testRand(4)); !errors.Is(err, ErrInvalidDistribution) {
		t.Fatalf("expected ErrInvalidDistribution, got %v", err)
	}
}
