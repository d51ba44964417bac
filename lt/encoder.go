package lt

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// EncoderOption configures an Encoder during construction
type EncoderOption func(*Encoder) error

// WithRand sets the random source used for degrees and index selection.
// Tests pass a seeded source to get a reproducible droplet stream.
func WithRand(rng *rand.Rand) EncoderOption {
	return func(e *Encoder) error {
		if rng == nil {
			return fmt.Errorf("random source must not be nil")
		}
		e.rng = rng
		return nil
	}
}

// WithSolitonParams overrides the robust soliton constants
func WithSolitonParams(c, delta float64) EncoderOption {
	return func(e *Encoder) error {
		e.c = c
		e.delta = delta
		return nil
	}
}

// WithIdealSoliton switches the encoder to the ideal soliton distribution
func WithIdealSoliton() EncoderOption {
	return func(e *Encoder) error {
		e.ideal = true
		return nil
	}
}

// WithSeededDroplets makes the encoder derive each droplet's indices from a
// fresh seed, see SeededIndices
func WithSeededDroplets() EncoderOption {
	return func(e *Encoder) error {
		e.seeded = true
		return nil
	}
}

// WithMaxDegree caps droplet degrees at n. Degrees the distribution draws above
// n are clamped to n, which moves only the far tail of the distribution.
func WithMaxDegree(n int) EncoderOption {
	return func(e *Encoder) error {
		if n < 1 {
			return fmt.Errorf("%w: max degree %d", ErrInvalidDistribution, n)
		}
		e.maxDegree = n
		return nil
	}
}

// Encoder produces an unbounded stream of droplets over a fixed buffer.
// It keeps no record of what it already emitted. An Encoder is not safe for
// concurrent use.
type Encoder struct {
	blocks    [][]byte
	length    int
	chunkSize int

	c         float64
	delta     float64
	ideal     bool
	seeded    bool
	maxDegree int

	rng  *rand.Rand
	dist DegreeDistribution
}

// NewEncoder partitions buf into chunkSize blocks and prepares the degree
// distribution for them
func NewEncoder(buf []byte, chunkSize int, opts ...EncoderOption) (*Encoder, error) {
	blocks, err := Partition(buf, chunkSize)
	if err != nil {
		return nil, err
	}

	e := &Encoder{
		blocks:    blocks,
		length:    len(buf),
		chunkSize: chunkSize,
		c:         DefaultC,
		delta:     DefaultDelta,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.rng == nil {
		e.rng = newRandomSource()
	}

	if e.ideal {
		e.dist, err = NewIdealSoliton(len(blocks), e.rng)
	} else {
		e.dist, err = NewRobustSoliton(len(blocks), e.c, e.delta, e.rng)
	}
	if err != nil {
		return nil, err
	}

	log.Debugf("encoder ready: %d bytes, %d blocks of %d bytes", e.length, len(blocks), chunkSize)
	return e, nil
}

// NextDroplet returns a new droplet. It never fails and the stream never ends.
func (e *Encoder) NextDroplet() Droplet {
	k := len(e.blocks)
	degree := e.dist.Sample()
	if e.maxDegree > 0 {
		degree = min(degree, e.maxDegree)
	}

	drop := Droplet{Degree: degree}
	if e.seeded {
		drop.Seeded = true
		drop.Seed = e.rng.Uint64()
		drop.Indices = SeededIndices(drop.Seed, k, degree)
	} else {
		drop.Indices = sampleIndices(e.rng, k, degree)
	}

	drop.Payload = make([]byte, e.chunkSize)
	for _, idx := range drop.Indices {
		xorInto(drop.Payload, e.blocks[idx])
	}
	return drop
}

// BlockCount returns K, the number of source blocks
func (e *Encoder) BlockCount() int {
	return len(e.blocks)
}

// ChunkSize returns the block size in bytes
func (e *Encoder) ChunkSize() int {
	return e.chunkSize
}

// Length returns the unpadded length of the encoded buffer
func (e *Encoder) Length() int {
	return e.length
}

// newRandomSource returns a PCG generator seeded from the OS
func newRandomSource() *rand.Rand {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:])))
}
