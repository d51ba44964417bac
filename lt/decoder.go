package lt

import (
	"fmt"
	"slices"
)

// State tells whether the decoder has recovered the whole buffer
type State int

const (
	Missing State = iota
	Finished
)

func (s State) String() string {
	switch s {
	case Missing:
		return "missing"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats describes the progress of a decoder
type Stats struct {
	Droplets     int // Droplets accepted so far, duplicates included
	Blocks       int // K, the number of source blocks
	Unknown      int // Blocks not yet recovered
	Pending      int // Droplets waiting for more blocks to become known
	Redundant    int // Droplets that carried no new information
	Inconsistent int // Redundant droplets whose residual was not zero
}

// Overhead returns the received droplets as a fraction of K
func (s Stats) Overhead() float64 {
	if s.Blocks == 0 {
		return 0
	}
	return float64(s.Droplets) / float64(s.Blocks)
}

// CatchResult is the decoder status after catching a droplet. Data is only
// set when State is Finished.
type CatchResult struct {
	State State
	Data  []byte
	Stats Stats
}

// pendingDroplet is a droplet reduced against the known blocks. remaining
// holds the indices that are still unknown.
type pendingDroplet struct {
	remaining []int
	payload   []byte
	done      bool
}

// Decoder is a belief-propagation (peeling) decoder. It is not safe for
// concurrent use; callers serialize Catch.
type Decoder struct {
	length    int
	chunkSize int
	k         int

	known   [][]byte            // Recovered blocks, nil while unknown. Write-once.
	edges   [][]*pendingDroplet // Pending droplets referencing each unknown block
	unknown int

	stats Stats
}

// NewDecoder creates a decoder for a buffer of length bytes split into
// chunkSize blocks
func NewDecoder(length, chunkSize int) (*Decoder, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	if length <= 0 {
		return nil, ErrEmptyBuffer
	}

	k := BlockCount(length, chunkSize)
	return &Decoder{
		length:    length,
		chunkSize: chunkSize,
		k:         k,
		known:     make([][]byte, k),
		edges:     make([][]*pendingDroplet, k),
		unknown:   k,
		stats:     Stats{Blocks: k},
	}, nil
}

// Catch feeds one droplet to the decoder. Malformed droplets are rejected with
// an error wrapping ErrMalformedDroplet and leave the decoder untouched. Once
// finished, the decoder keeps answering Finished.
func (d *Decoder) Catch(drop Droplet) (CatchResult, error) {
	if err := drop.Validate(d.k, d.chunkSize); err != nil {
		return CatchResult{}, err
	}
	d.stats.Droplets++

	if d.unknown == 0 {
		d.stats.Redundant++
		return d.result(), nil
	}

	// Reduce against the known blocks. The payload is copied so the caller's
	// droplet is never modified.
	payload := slices.Clone(drop.Payload)
	remaining := make([]int, 0, len(drop.Indices))
	for _, idx := range drop.Indices {
		if block := d.known[idx]; block != nil {
			xorInto(payload, block)
		} else {
			remaining = append(remaining, idx)
		}
	}

	var worklist []int
	switch len(remaining) {
	case 0:
		d.discard(payload)
	case 1:
		if d.solve(remaining[0], payload) {
			worklist = append(worklist, remaining[0])
		}
	default:
		p := &pendingDroplet{remaining: remaining, payload: payload}
		for _, idx := range remaining {
			d.edges[idx] = append(d.edges[idx], p)
		}
		d.stats.Pending++
	}

	d.propagate(worklist)

	return d.result(), nil
}

// propagate drains the worklist of freshly solved blocks, peeling them off
// every pending droplet that references them
func (d *Decoder) propagate(worklist []int) {
	for len(worklist) > 0 {
		solved := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		block := d.known[solved]
		referencing := d.edges[solved]
		d.edges[solved] = nil

		for _, p := range referencing {
			if p.done {
				continue
			}
			pos := slices.Index(p.remaining, solved)
			if pos < 0 {
				continue
			}
			xorInto(p.payload, block)
			p.remaining[pos] = p.remaining[len(p.remaining)-1]
			p.remaining = p.remaining[:len(p.remaining)-1]

			switch len(p.remaining) {
			case 0:
				p.done = true
				d.stats.Pending--
				d.discard(p.payload)
			case 1:
				p.done = true
				d.stats.Pending--
				next := p.remaining[0]
				if d.known[next] != nil {
					// Solved earlier in this cascade but not yet peeled
					xorInto(p.payload, d.known[next])
					d.discard(p.payload)
					continue
				}
				if d.solve(next, p.payload) {
					worklist = append(worklist, next)
				}
			}
		}
	}
}

// solve records block idx. It reports false if the block was already known,
// known blocks are never overwritten.
func (d *Decoder) solve(idx int, data []byte) bool {
	if d.known[idx] != nil {
		return false
	}
	d.known[idx] = data
	d.unknown--
	log.Debugf("solved block %d, %d unknown", idx, d.unknown)
	return true
}

// discard drops a droplet whose blocks are all known. Its residual must be
// zero; anything else means corruption upstream, which is reported but not
// fatal.
func (d *Decoder) discard(residual []byte) {
	d.stats.Redundant++
	if !isZero(residual) {
		d.stats.Inconsistent++
		log.Warnf("droplet residual is not zero after reduction, data may be corrupted (%d inconsistent so far)", d.stats.Inconsistent)
	}
}

func (d *Decoder) result() CatchResult {
	stats := d.Stats()
	if d.unknown > 0 {
		return CatchResult{State: Missing, Stats: stats}
	}
	return CatchResult{State: Finished, Data: d.assemble(), Stats: stats}
}

// assemble concatenates the blocks in index order and trims the padding
func (d *Decoder) assemble() []byte {
	buf := make([]byte, 0, d.k*d.chunkSize)
	for _, block := range d.known {
		buf = append(buf, block...)
	}
	return buf[:d.length]
}

// Finished reports whether every block is known
func (d *Decoder) Finished() bool {
	return d.unknown == 0
}

// Stats returns the current decoding statistics
func (d *Decoder) Stats() Stats {
	s := d.stats
	s.Unknown = d.unknown
	return s
}

// Block returns a copy of block idx if it is known
func (d *Decoder) Block(idx int) ([]byte, bool) {
	if idx < 0 || idx >= d.k || d.known[idx] == nil {
		return nil, false
	}
	return slices.Clone(d.known[idx]), true
}

// BlockCount returns K
func (d *Decoder) BlockCount() int {
	return d.k
}

// ChunkSize returns the block size in bytes
func (d *Decoder) ChunkSize() int {
	return d.chunkSize
}

// Length returns the length of the buffer being decoded
func (d *Decoder) Length() int {
	return d.length
}
