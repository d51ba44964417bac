package lt

import "fmt"

// BlockCount returns the number of chunkSize blocks needed to hold length bytes
func BlockCount(length, chunkSize int) int {
	if chunkSize <= 0 || length <= 0 {
		return 0
	}
	return (length + chunkSize - 1) / chunkSize
}

// Partition splits buf into fixed-size blocks, zero-padding the last one.
// The returned blocks never alias buf.
func Partition(buf []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}

	k := BlockCount(len(buf), chunkSize)
	// One backing array keeps the blocks contiguous
	backing := make([]byte, k*chunkSize)
	copy(backing, buf)

	blocks := make([][]byte, k)
	for i := range blocks {
		blocks[i] = backing[i*chunkSize : (i+1)*chunkSize : (i+1)*chunkSize]
	}
	return blocks, nil
}

// xorInto sets dst[i] ^= src[i] for the common prefix of both slices
func xorInto(dst, src []byte) {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] ^= src[i]
	}
}

func isZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
