// Package bloom implements the engine's probabilistic membership filter.
//
// It is a thin domain wrapper around github.com/bits-and-blooms/bloom/v3:
// bit storage, set/test, and wire (de)serialization are the library's; this
// package only owns the engine-specific sizing math (bits-per-key, expected
// key count, and the number-of-hashes formula), which the library's own
// NewWithEstimates does not expose in the exact shape the format needs.
package bloom

import (
	"bytes"
	"fmt"
	"math"

	bloomlib "github.com/bits-and-blooms/bloom/v3"
)

const (
	// MinBits is the smallest bit array the filter will ever allocate,
	// regardless of how few keys it is sized for.
	MinBits = 64

	// MinHashes and MaxHashes bound the number of hash probes per key.
	MinHashes = 1
	MaxHashes = 30
)

// Filter answers "possibly present" / "definitely absent" for byte-string
// keys. It never produces a false negative: MayContain(k) is guaranteed to
// report true for every k previously passed to Add.
type Filter struct {
	f *bloomlib.BloomFilter
}

// NumBitsFor returns the bit array size for numKeys keys at bitsPerKey bits
// per key, never smaller than MinBits and rounded up to a whole number of
// bytes.
func NumBitsFor(numKeys, bitsPerKey int) uint {
	total := numKeys * bitsPerKey
	if total < MinBits {
		total = MinBits
	}
	total = (total + 7) / 8 * 8
	return uint(total)
}

// NumHashesFor returns the number of hash probes for bitsPerKey bits per
// key: k = ceil(bitsPerKey * ln2), clamped to [MinHashes, MaxHashes].
func NumHashesFor(bitsPerKey int) uint {
	k := int(math.Ceil(float64(bitsPerKey) * math.Ln2))
	if k < MinHashes {
		k = MinHashes
	}
	if k > MaxHashes {
		k = MaxHashes
	}
	return uint(k)
}

// New creates an empty filter sized for numKeys keys at bitsPerKey bits per
// key.
func New(numKeys, bitsPerKey int) *Filter {
	m := NumBitsFor(numKeys, bitsPerKey)
	k := NumHashesFor(bitsPerKey)
	return &Filter{f: bloomlib.New(m, k)}
}

// Add inserts key into the filter.
func (flt *Filter) Add(key []byte) {
	flt.f.Add(key)
}

// MayContain reports whether key was possibly added. A false result is a
// guarantee the key was never added; a true result may be a false positive.
func (flt *Filter) MayContain(key []byte) bool {
	return flt.f.Test(key)
}

// NumHashes returns the number of hash probes this filter uses per key.
func (flt *Filter) NumHashes() uint32 {
	return uint32(flt.f.K())
}

// NumBits returns the size of the underlying bit array, in bits.
func (flt *Filter) NumBits() uint32 {
	return uint32(flt.f.Cap())
}

// EncodeTo writes the filter to w in the library's own wire format, which
// carries the bit-array size and the number of hashes ahead of the bits, so
// Decode needs nothing else. The SSTable footer records NumHashes as well.
func (flt *Filter) EncodeTo(w *bytes.Buffer) error {
	if _, err := flt.f.WriteTo(w); err != nil {
		return fmt.Errorf("bloom: encode: %w", err)
	}
	return nil
}

// Decode reconstructs a filter from bytes previously produced by EncodeTo.
func Decode(data []byte) (*Filter, error) {
	f := &bloomlib.BloomFilter{}
	if _, err := f.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("bloom: decode: %w", err)
	}
	return &Filter{f: f}, nil
}

// BitsPerKeyForFPRate returns the bits-per-key setting needed to achieve
// fpRate, via m/n = -ln(p) / ln(2)^2. Useful for callers that want to tune
// the engine away from the 10-bits/1% default.
func BitsPerKeyForFPRate(fpRate float64) int {
	bitsPerKey := -math.Log(fpRate) / (math.Ln2 * math.Ln2)
	return int(math.Ceil(bitsPerKey))
}
