package lt

import (
	"bytes"
	"errors"
	"testing"
)

// decodeStream feeds droplets from enc into dec, skipping those for which drop
// returns true, until the decoder finishes or limit droplets have been drawn
func decodeStream(t *testing.T, enc *Encoder, dec *Decoder, limit int, drop func(i int) bool) CatchResult {
	t.Helper()
	for i := 0; i < limit; i++ {
		d := enc.NextDroplet()
		if drop != nil && drop(i) {
			continue
		}
		res, err := dec.Catch(d)
		if err != nil {
			t.Fatalf("catch %d: %v", i, err)
		}
		if res.State == Finished {
			return res
		}
	}
	t.Fatalf("decoder did not finish after %d droplets: %+v", limit, dec.Stats())
	return CatchResult{}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		length, chunkSize int
	}{
		{1, 1},
		{1, 64},
		{1024, 512},
		{1000, 100},
		{1001, 100},
		{1099, 127},
		{4096, 1},
		{10_000, 100},
	}
	for i, tt := range tests {
		buf := randomBytes(uint64(i), tt.length)
		enc, err := NewEncoder(buf, tt.chunkSize, WithRand(testRand(uint64(100+i))))
		if err != nil {
			t.Fatal(err)
		}
		dec, err := NewDecoder(tt.length, tt.chunkSize)
		if err != nil {
			t.Fatal(err)
		}
		res := decodeStream(t, enc, dec, 50*enc.BlockCount()+100, nil)
		if !bytes.Equal(res.Data, buf) {
			t.Fatalf("length %d chunk %d: recovered buffer differs", tt.length, tt.chunkSize)
		}
		if res.Stats.Unknown != 0 || res.Stats.Blocks != enc.BlockCount() {
			t.Fatalf("unexpected final stats %+v", res.Stats)
		}
	}
}

func TestRoundTripManySizes(t *testing.T) {
	seed := uint64(0)
	for size := 1000; size < 1100; size += 7 {
		for chunk := 100; chunk < 130; chunk += 3 {
			seed++
			buf := randomBytes(seed, size)
			enc, err := NewEncoder(buf, chunk, WithRand(testRand(seed)))
			if err != nil {
				t.Fatal(err)
			}
			dec, err := NewDecoder(size, chunk)
			if err != nil {
				t.Fatal(err)
			}
			res := decodeStream(t, enc, dec, 1000, nil)
			if len(res.Data) != size {
				t.Fatalf("size %d chunk %d: recovered %d bytes", size, chunk, len(res.Data))
			}
			if !bytes.Equal(res.Data, buf) {
				t.Fatalf("size %d chunk %d: recovered buffer differs", size, chunk)
			}
		}
	}
}

func TestEndToEndWithLoss(t *testing.T) {
	buf := randomBytes(7, 10_000)

	t.Run("lossless", func(t *testing.T) {
		enc, err := NewEncoder(buf, 100, WithRand(testRand(70)))
		if err != nil {
			t.Fatal(err)
		}
		dec, err := NewDecoder(len(buf), 100)
		if err != nil {
			t.Fatal(err)
		}
		res := decodeStream(t, enc, dec, 2000, nil)
		if !bytes.Equal(res.Data, buf) {
			t.Fatal("recovered buffer differs")
		}
	})

	t.Run("five percent loss", func(t *testing.T) {
		enc, err := NewEncoder(buf, 100, WithRand(testRand(71)))
		if err != nil {
			t.Fatal(err)
		}
		dec, err := NewDecoder(len(buf), 100)
		if err != nil {
			t.Fatal(err)
		}
		loss := testRand(72)
		dropped := 0
		res := decodeStream(t, enc, dec, 2000, func(int) bool {
			if loss.Float64() < 0.05 {
				dropped++
				return true
			}
			return false
		})
		if !bytes.Equal(res.Data, buf) {
			t.Fatal("recovered buffer differs")
		}
		if dropped == 0 {
			t.Fatal("expected some droplets to be dropped")
		}
	})

	t.Run("seeded droplets", func(t *testing.T) {
		enc, err := NewEncoder(buf, 100, WithRand(testRand(73)), WithSeededDroplets())
		if err != nil {
			t.Fatal(err)
		}
		dec, err := NewDecoder(len(buf), 100)
		if err != nil {
			t.Fatal(err)
		}
		res := decodeStream(t, enc, dec, 2000, nil)
		if !bytes.Equal(res.Data, buf) {
			t.Fatal("recovered buffer differs")
		}
	})
}

func TestOrderIndependence(t *testing.T) {
	buf := randomBytes(8, 3000)
	enc, err := NewEncoder(buf, 50, WithRand(testRand(80)))
	if err != nil {
		t.Fatal(err)
	}

	// Collect a sufficient multiset in stream order
	dec, err := NewDecoder(len(buf), 50)
	if err != nil {
		t.Fatal(err)
	}
	var drops []Droplet
	for {
		d := enc.NextDroplet()
		drops = append(drops, d)
		res, err := dec.Catch(d)
		if err != nil {
			t.Fatal(err)
		}
		if res.State == Finished {
			break
		}
		if len(drops) > 5000 {
			t.Fatal("decoder did not finish")
		}
	}

	rng := testRand(81)
	for round := 0; round < 10; round++ {
		shuffled := make([]Droplet, len(drops))
		copy(shuffled, drops)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		dec, err := NewDecoder(len(buf), 50)
		if err != nil {
			t.Fatal(err)
		}
		var res CatchResult
		for _, d := range shuffled {
			res, err = dec.Catch(d)
			if err != nil {
				t.Fatal(err)
			}
		}
		if res.State != Finished {
			t.Fatalf("round %d: permuted multiset did not finish: %+v", round, res.Stats)
		}
		if !bytes.Equal(res.Data, buf) {
			t.Fatalf("round %d: recovered buffer differs", round)
		}
	}
}

func TestCascade(t *testing.T) {
	// Four blocks chained by degree-2 droplets; one degree-1 droplet unlocks all
	blocks := [][]byte{{1, 1}, {2, 2}, {4, 4}, {8, 8}}
	xor := func(idx ...int) []byte {
		out := make([]byte, 2)
		for _, i := range idx {
			xorInto(out, blocks[i])
		}
		return out
	}

	dec, err := NewDecoder(8, 2)
	if err != nil {
		t.Fatal(err)
	}
	chain := []Droplet{
		{Degree: 2, Indices: []int{2, 3}, Payload: xor(2, 3)},
		{Degree: 2, Indices: []int{1, 2}, Payload: xor(1, 2)},
		{Degree: 2, Indices: []int{0, 1}, Payload: xor(0, 1)},
	}
	for _, d := range chain {
		res, err := dec.Catch(d)
		if err != nil {
			t.Fatal(err)
		}
		if res.State != Missing {
			t.Fatal("decoder finished too early")
		}
	}
	if s := dec.Stats(); s.Pending != 3 || s.Unknown != 4 {
		t.Fatalf("expected 3 pending and 4 unknown, got %+v", s)
	}

	res, err := dec.Catch(Droplet{Degree: 1, Indices: []int{0}, Payload: xor(0)})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Finished {
		t.Fatalf("expected the cascade to finish decoding, got %+v", res.Stats)
	}
	if !bytes.Equal(res.Data, []byte{1, 1, 2, 2, 4, 4, 8, 8}) {
		t.Fatalf("unexpected data %v", res.Data)
	}
	if res.Stats.Pending != 0 {
		t.Fatalf("expected no pending droplets, got %d", res.Stats.Pending)
	}
}

func TestDuplicateDroplets(t *testing.T) {
	buf := randomBytes(9, 800)
	enc, err := NewEncoder(buf, 40, WithRand(testRand(90)))
	if err != nil {
		t.Fatal(err)
	}
	dec, err := NewDecoder(len(buf), 40)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2000; i++ {
		d := enc.NextDroplet()
		before := snapshotKnown(dec)

		res, err := dec.Catch(d)
		if err != nil {
			t.Fatal(err)
		}
		afterFirst := snapshotKnown(dec)

		res2, err := dec.Catch(d)
		if err != nil {
			t.Fatal(err)
		}
		afterSecond := snapshotKnown(dec)

		// Known blocks never change once set
		for idx, b := range before {
			if b != nil && !bytes.Equal(b, afterSecond[idx]) {
				t.Fatalf("block %d changed after it was known", idx)
			}
		}
		// The duplicate adds nothing
		for idx := range afterFirst {
			if !bytes.Equal(afterFirst[idx], afterSecond[idx]) {
				t.Fatalf("duplicate droplet changed block %d", idx)
			}
		}
		if res2.Stats.Droplets != res.Stats.Droplets+1 {
			t.Fatalf("expected the duplicate to be counted once more")
		}
		if res2.Stats.Inconsistent != 0 {
			t.Fatal("duplicate droplet reported as inconsistent")
		}
		if res2.State == Finished {
			if !bytes.Equal(res2.Data, buf) {
				t.Fatal("recovered buffer differs")
			}
			return
		}
	}
	t.Fatal("decoder did not finish")
}

func snapshotKnown(dec *Decoder) [][]byte {
	out := make([][]byte, dec.BlockCount())
	for i := range out {
		out[i], _ = dec.Block(i)
	}
	return out
}

func TestMalformedDropletLeavesStateUntouched(t *testing.T) {
	dec, err := NewDecoder(40, 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Catch(Droplet{Degree: 2, Indices: []int{0, 1}, Payload: make([]byte, 10)}); err != nil {
		t.Fatal(err)
	}
	before := dec.Stats()

	malformed := []Droplet{
		{Degree: 1, Indices: []int{4}, Payload: make([]byte, 10)},
		{Degree: 2, Indices: []int{1}, Payload: make([]byte, 10)},
		{Degree: 1, Indices: []int{1}, Payload: make([]byte, 9)},
		{Degree: 2, Indices: []int{2, 2}, Payload: make([]byte, 10)},
	}
	for _, d := range malformed {
		if _, err := dec.Catch(d); !errors.Is(err, ErrMalformedDroplet) {
			t.Fatalf("expected ErrMalformedDroplet for %+v, got %v", d, err)
		}
	}
	if after := dec.Stats(); after != before {
		t.Fatalf("malformed droplets changed the stats: %+v -> %+v", before, after)
	}
}

func TestInconsistentDroplet(t *testing.T) {
	dec, err := NewDecoder(20, 10)
	if err != nil {
		t.Fatal(err)
	}
	first := []byte("0123456789")
	if _, err := dec.Catch(Droplet{Degree: 1, Indices: []int{0}, Payload: first}); err != nil {
		t.Fatal(err)
	}

	// Same block, different content: reported, not fatal, block untouched
	res, err := dec.Catch(Droplet{Degree: 1, Indices: []int{0}, Payload: []byte("9876543210")})
	if err != nil {
		t.Fatalf("inconsistency must not be an error, got %v", err)
	}
	if res.Stats.Inconsistent != 1 || res.Stats.Redundant != 1 {
		t.Fatalf("expected one inconsistent redundant droplet, got %+v", res.Stats)
	}
	block, ok := dec.Block(0)
	if !ok || !bytes.Equal(block, first) {
		t.Fatalf("known block was overwritten: %q", block)
	}

	// Decoding continues
	res, err = dec.Catch(Droplet{Degree: 1, Indices: []int{1}, Payload: []byte("abcdefghij")})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Finished || string(res.Data) != "0123456789abcdefghij" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFinishedIsTerminal(t *testing.T) {
	dec, err := NewDecoder(5, 10)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte{'h', 'e', 'l', 'l', 'o', 0, 0, 0, 0, 0}
	res, err := dec.Catch(Droplet{Degree: 1, Indices: []int{0}, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Finished || string(res.Data) != "hello" {
		t.Fatalf("unexpected result %+v", res)
	}

	// Mutating returned data must not leak into later results
	res.Data[0] = 'j'

	for i := 0; i < 3; i++ {
		again, err := dec.Catch(Droplet{Degree: 1, Indices: []int{0}, Payload: make([]byte, 10)})
		if err != nil {
			t.Fatal(err)
		}
		if again.State != Finished || string(again.Data) != "hello" {
			t.Fatalf("expected a terminal Finished with the same data, got %+v", again)
		}
		if again.Stats.Droplets != i+2 {
			t.Fatalf("expected %d droplets counted, got %d", i+2, again.Stats.Droplets)
		}
	}
	if !dec.Finished() {
		t.Fatal("decoder should report finished")
	}
}

func TestNoPaddingLeak(t *testing.T) {
	buf := randomBytes(11, 1001)
	enc, err := NewEncoder(buf, 100, WithRand(testRand(110)))
	if err != nil {
		t.Fatal(err)
	}
	dec, err := NewDecoder(len(buf), 100)
	if err != nil {
		t.Fatal(err)
	}
	res := decodeStream(t, enc, dec, 2000, nil)
	if len(res.Data) != 1001 {
		t.Fatalf("expected 1001 bytes, got %d", len(res.Data))
	}
	if !bytes.Equal(res.Data, buf) {
		t.Fatal("recovered buffer differs")
	}
}

func TestNewDecoderErrors(t *testing.T) {
	if _, err := NewDecoder(100, 0); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize, got %v", err)
	}
	if _, err := NewDecoder(0, 10); !errors.Is(err, ErrEmptyBuffer) {
		t.Fatalf("expected ErrEmptyBuffer, got %v", err)
	}
}

func TestMissingNeverErrors(t *testing.T) {
	dec, err := NewDecoder(1000, 10)
	if err != nil {
		t.Fatal(err)
	}
	// Only ever covering blocks 0 and 1: the decoder reports Missing forever
	for i := 0; i < 100; i++ {
		res, err := dec.Catch(Droplet{Degree: 2, Indices: []int{0, 1}, Payload: make([]byte, 10)})
		if err != nil {
			t.Fatal(err)
		}
		if res.State != Missing || res.Stats.Unknown != 100 {
			t.Fatalf("unexpected result %+v", res.Stats)
		}
		if res.Stats.Overhead() != float64(i+1)/100 {
			t.Fatalf("unexpected overhead %v", res.Stats.Overhead())
		}
	}
}
