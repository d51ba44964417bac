// Package lt implements a Luby Transform fountain code: an encoder that turns a
// buffer into an unbounded stream of droplets, and a peeling decoder that
// recovers the buffer from any sufficiently large set of them, in any order.
package lt

import (
	"errors"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("lt")

const (
	// DefaultC is the default robust soliton tuning constant
	DefaultC = 0.1
	// DefaultDelta is the default decoding failure probability bound
	DefaultDelta = 0.05
)

var (
	// ErrInvalidChunkSize is returned for a chunk size below one byte
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	// ErrEmptyBuffer is returned when encoding or decoding zero bytes
	ErrEmptyBuffer = errors.New("buffer must not be empty")
	// ErrInvalidDistribution is returned for degree distribution parameters
	// outside their range, or a degree cap below one
	ErrInvalidDistribution = errors.New("invalid degree distribution parameters")
	// ErrMalformedDroplet is returned by Decoder.Catch and Droplet.Validate
	// for a droplet that does not fit the message geometry
	ErrMalformedDroplet = errors.New("malformed droplet")
)
