// Package wire encodes the frames exchanged by broadcast routers. Frames are
// protobuf messages, see frame.proto.
package wire

import (
	"errors"
	"fmt"

	"github.com/gogo/protobuf/proto"

	"github.com/ppopth/lt-fountain/lt"
)

// ErrMalformedFrame is wrapped by every decoding error
var ErrMalformedFrame = errors.New("malformed frame")

// Kind tells what a frame carries
type Kind uint64

const (
	// KindDroplet frames carry one encoded droplet of a message
	KindDroplet Kind = iota + 1
	// KindCompletion frames tell a peer the sender has decoded a message
	KindCompletion
)

func (k Kind) String() string {
	switch k {
	case KindDroplet:
		return "droplet"
	case KindCompletion:
		return "completion"
	default:
		return fmt.Sprintf("kind(%d)", uint64(k))
	}
}

const (
	// MaxBlocks is the largest block count a droplet frame may announce
	MaxBlocks = 1 << 17
	// MaxDegree is the largest degree a droplet frame may announce. Encoders
	// feeding the wire cap their degrees at it.
	MaxDegree = 1 << 12
)

// Limits bounds the geometry a droplet frame may announce. A frame is checked
// against them before its indices are expanded. Zero maximums mean the package
// maximums.
type Limits struct {
	MaxBlocks int
	MaxDegree int
	// When non-zero, the only chunk size accepted
	ChunkSize int
}

// DefaultLimits accepts any chunk size up to the package maximums
func DefaultLimits() Limits {
	return Limits{MaxBlocks: MaxBlocks, MaxDegree: MaxDegree}
}

// Frame is a single datagram exchanged between routers. Only Kind and
// MessageID are set on completion frames.
type Frame struct {
	Kind      Kind
	MessageID string

	// Geometry of the encoded message, repeated on every droplet so a
	// receiver can start decoding from any frame
	Length    uint64
	ChunkSize uint32
	Checksum  uint64 // xxhash of the whole message

	Droplet lt.Droplet
}

// BlockCount returns the number of source blocks described by the frame
func (f *Frame) BlockCount() int {
	return lt.BlockCount(int(f.Length), int(f.ChunkSize))
}

// Marshal encodes the frame. Seeded droplets are sent without their indices.
func Marshal(f *Frame) ([]byte, error) {
	if f.Kind != KindDroplet && f.Kind != KindCompletion {
		return nil, fmt.Errorf("unknown frame kind %d", uint64(f.Kind))
	}
	if f.MessageID == "" {
		return nil, fmt.Errorf("frame has no message id")
	}

	msg := &frameMessage{
		Kind:      proto.Uint64(uint64(f.Kind)),
		MessageId: []byte(f.MessageID),
	}
	if f.Kind == KindCompletion {
		return proto.Marshal(msg)
	}

	drop := f.Droplet
	msg.Length = proto.Uint64(f.Length)
	msg.ChunkSize = proto.Uint64(uint64(f.ChunkSize))
	msg.Checksum = proto.Uint64(f.Checksum)
	msg.Degree = proto.Uint64(uint64(drop.Degree))
	if drop.Seeded {
		msg.Seed = proto.Uint64(drop.Seed)
	} else {
		msg.Indices = make([]uint64, len(drop.Indices))
		for i, idx := range drop.Indices {
			if idx < 0 {
				return nil, fmt.Errorf("negative block index %d", idx)
			}
			msg.Indices[i] = uint64(idx)
		}
	}
	msg.Payload = drop.Payload
	return proto.Marshal(msg)
}

// Unmarshal decodes a frame within DefaultLimits
func Unmarshal(buf []byte) (*Frame, error) {
	return UnmarshalWithLimits(buf, DefaultLimits())
}

// UnmarshalWithLimits decodes a frame and checks the droplet against the
// geometry the frame announces. Seeded droplets come back with their indices
// expanded, which only happens once the geometry is within limits.
func UnmarshalWithLimits(buf []byte, limits Limits) (*Frame, error) {
	if limits.MaxBlocks <= 0 {
		limits.MaxBlocks = MaxBlocks
	}
	if limits.MaxDegree <= 0 {
		limits.MaxDegree = MaxDegree
	}

	var msg frameMessage
	if err := proto.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if msg.Kind == nil || len(msg.MessageId) == 0 {
		return nil, fmt.Errorf("%w: missing kind or message id", ErrMalformedFrame)
	}

	f := &Frame{
		Kind:      Kind(msg.GetKind()),
		MessageID: string(msg.MessageId),
	}
	switch f.Kind {
	case KindCompletion:
		return f, nil
	case KindDroplet:
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedFrame, uint64(f.Kind))
	}

	length, chunkSize := msg.GetLength(), msg.GetChunkSize()
	switch {
	case length == 0 || chunkSize == 0:
		return nil, fmt.Errorf("%w: empty geometry (length %d, chunk size %d)", ErrMalformedFrame, length, chunkSize)
	case limits.ChunkSize > 0 && chunkSize != uint64(limits.ChunkSize):
		return nil, fmt.Errorf("%w: chunk size %d, expected %d", ErrMalformedFrame, chunkSize, limits.ChunkSize)
	case chunkSize > 1<<31-1:
		return nil, fmt.Errorf("%w: chunk size %d too large", ErrMalformedFrame, chunkSize)
	case uint64(len(msg.Payload)) != chunkSize:
		return nil, fmt.Errorf("%w: payload is %d bytes, expected %d", ErrMalformedFrame, len(msg.Payload), chunkSize)
	}
	// Division keeps a huge length from overflowing the block count
	if blocks := (length-1)/chunkSize + 1; blocks > uint64(limits.MaxBlocks) {
		return nil, fmt.Errorf("%w: %d blocks exceed %d", ErrMalformedFrame, blocks, limits.MaxBlocks)
	}
	f.Length = length
	f.ChunkSize = uint32(chunkSize)
	f.Checksum = msg.GetChecksum()

	k := f.BlockCount()
	degree := msg.GetDegree()
	if degree < 1 || degree > uint64(min(k, limits.MaxDegree)) {
		return nil, fmt.Errorf("%w: degree %d outside [1, %d]", ErrMalformedFrame, degree, min(k, limits.MaxDegree))
	}
	seeded := msg.Seed != nil
	if seeded == (len(msg.Indices) > 0) {
		return nil, fmt.Errorf("%w: droplet needs exactly one of seed or indices", ErrMalformedFrame)
	}

	f.Droplet.Degree = int(degree)
	f.Droplet.Payload = msg.Payload
	if seeded {
		f.Droplet.Seeded = true
		f.Droplet.Seed = msg.GetSeed()
		f.Droplet.Indices = lt.SeededIndices(f.Droplet.Seed, k, f.Droplet.Degree)
	} else {
		if uint64(len(msg.Indices)) != degree {
			return nil, fmt.Errorf("%w: degree %d but %d indices", ErrMalformedFrame, degree, len(msg.Indices))
		}
		f.Droplet.Indices = make([]int, len(msg.Indices))
		for i, idx := range msg.Indices {
			if idx >= uint64(k) {
				return nil, fmt.Errorf("%w: index %d outside [0, %d)", ErrMalformedFrame, idx, k)
			}
			f.Droplet.Indices[i] = int(idx)
		}
	}

	if err := f.Droplet.Validate(k, int(f.ChunkSize)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return f, nil
}
