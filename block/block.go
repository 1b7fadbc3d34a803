// Package block implements the fixed-size, restart-point-indexed data page
// that an SSTable is built from.
//
// Layout (all integers little-endian):
//
//	entry:  [key_len:4][val_len:4][key][value]   (repeated, sorted by key)
//	        [restart_0:4][restart_1:4]...[restart_n-1:4]
//	        [num_restarts:4]
//
// A restart point is the byte offset, within the entry region, of an entry
// whose full key is stored. The first entry is always a restart point.
// Lookups binary-search the restart array for the rightmost restart whose
// key is <= the target, then scan linearly from there — bounding scan cost
// to the restart interval instead of the whole block.
package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCorrupt is returned when a block's on-disk bytes fail validation.
var ErrCorrupt = errors.New("block: corrupt")

// DefaultRestartInterval is the number of entries between restart points
// when a Builder isn't given an explicit one.
const DefaultRestartInterval = 16

const (
	entryHeaderSize = 8 // key_len + val_len
	restartEntrySize = 4
	countFieldSize   = 4
)

// Builder packs key/value entries into a Block, enforcing both the block
// size budget and (unverified) ascending key order.
type Builder struct {
	data            []byte
	restartPoints   []uint32
	sinceRestart    int
	restartInterval int
	maxSize         int
}

// NewBuilder creates a Builder targeting maxSize total bytes and inserting a
// restart point every restartInterval entries.
func NewBuilder(maxSize, restartInterval int) *Builder {
	if restartInterval <= 0 {
		restartInterval = DefaultRestartInterval
	}
	return &Builder{
		restartPoints:   []uint32{0}, // the first entry is always a restart point
		restartInterval: restartInterval,
		maxSize:         maxSize,
	}
}

// projectedSize returns the total encoded size if one more restart slot and
// the trailing count field had to be reserved, without mutating state.
func (b *Builder) projectedSize(entrySize int, extraRestart bool) int {
	restarts := len(b.restartPoints)
	if extraRestart {
		restarts++
	}
	return len(b.data) + entrySize + restarts*restartEntrySize + countFieldSize
}

// Add appends key/value if the block has room. It reports false, without
// modifying the builder, when the entry would overflow the size budget —
// this is a normal "block full" signal, not an error. Keys must be added in
// strictly ascending order; the builder does not verify this.
func (b *Builder) Add(key, value []byte) bool {
	entrySize := entryHeaderSize + len(key) + len(value)
	needsRestart := b.sinceRestart >= b.restartInterval

	// always reserve one more restart slot, whether or not this entry opens one
	if b.projectedSize(entrySize, true) > b.maxSize {
		return false
	}

	if needsRestart {
		b.restartPoints = append(b.restartPoints, uint32(len(b.data)))
		b.sinceRestart = 0
	}

	var header [entryHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(value)))

	b.data = append(b.data, header[:]...)
	b.data = append(b.data, key...)
	b.data = append(b.data, value...)

	b.sinceRestart++

	return true
}

// CurrentSize returns the total size the block would have if finished right
// now.
func (b *Builder) CurrentSize() int {
	return len(b.data) + len(b.restartPoints)*restartEntrySize + countFieldSize
}

// Empty reports whether no entries have been added yet.
func (b *Builder) Empty() bool {
	return b.sinceRestart == 0 && len(b.restartPoints) == 1 && len(b.data) == 0
}

// Finish seals the builder into an immutable Block. The builder must not be
// reused afterwards.
func (b *Builder) Finish() *Block {
	data := b.data
	for _, offset := range b.restartPoints {
		var buf [restartEntrySize]byte
		binary.LittleEndian.PutUint32(buf[:], offset)
		data = append(data, buf[:]...)
	}

	var countBuf [countFieldSize]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(b.restartPoints)))
	data = append(data, countBuf[:]...)

	restarts := make([]uint32, len(b.restartPoints))
	copy(restarts, b.restartPoints)

	return &Block{data: data, restartPoints: restarts}
}

// Block is an immutable, searchable page of sorted key/value entries.
type Block struct {
	data          []byte
	restartPoints []uint32
}

// FromBytes validates and wraps a block's raw bytes, as read from an
// SSTable.
func FromBytes(data []byte) (*Block, error) {
	if len(data) < countFieldSize {
		return nil, fmt.Errorf("%w: block too small for restart count", ErrCorrupt)
	}

	countOffset := len(data) - countFieldSize
	numRestarts := int(binary.LittleEndian.Uint32(data[countOffset:]))
	if numRestarts == 0 {
		return nil, fmt.Errorf("%w: block has no restart points", ErrCorrupt)
	}

	restartOffset := countOffset - numRestarts*restartEntrySize
	if restartOffset < 0 || restartOffset > len(data) {
		return nil, fmt.Errorf("%w: invalid restart array offset", ErrCorrupt)
	}

	restarts := make([]uint32, numRestarts)
	for i := 0; i < numRestarts; i++ {
		off := restartOffset + i*restartEntrySize
		restarts[i] = binary.LittleEndian.Uint32(data[off : off+restartEntrySize])
	}

	return &Block{data: data, restartPoints: restarts}, nil
}

// Bytes returns the block's raw on-disk representation.
func (blk *Block) Bytes() []byte {
	return blk.data
}

// Size returns the block's total encoded size in bytes.
func (blk *Block) Size() int {
	return len(blk.data)
}

func (blk *Block) entriesEnd() int {
	return len(blk.data) - len(blk.restartPoints)*restartEntrySize - countFieldSize
}

// parseEntry decodes the entry at offset, returning its key, value, and the
// offset immediately following it.
func (blk *Block) parseEntry(offset int) (key, value []byte, next int, err error) {
	if offset+entryHeaderSize > len(blk.data) {
		return nil, nil, 0, fmt.Errorf("%w: entry header out of bounds", ErrCorrupt)
	}

	keyLen := int(binary.LittleEndian.Uint32(blk.data[offset : offset+4]))
	valLen := int(binary.LittleEndian.Uint32(blk.data[offset+4 : offset+8]))

	keyStart := offset + entryHeaderSize
	valStart := keyStart + keyLen
	end := valStart + valLen

	if keyLen < 0 || valLen < 0 || end > len(blk.data) || end < keyStart {
		return nil, nil, 0, fmt.Errorf("%w: entry extends beyond block", ErrCorrupt)
	}

	return blk.data[keyStart:valStart], blk.data[valStart:end], end, nil
}

// findRestartPoint returns the index of the rightmost restart point whose
// key is <= target, via binary search over the restart array.
func (blk *Block) findRestartPoint(target []byte) (int, error) {
	lo, hi := 0, len(blk.restartPoints)-1
	result := 0

	for lo <= hi {
		mid := (lo + hi) / 2
		key, _, _, err := blk.parseEntry(int(blk.restartPoints[mid]))
		if err != nil {
			return 0, err
		}

		if bytes.Compare(key, target) <= 0 {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	return result, nil
}

// Get looks up key, returning (value, true) on an exact match or (nil,
// false) if the key is not present in this block.
func (blk *Block) Get(key []byte) ([]byte, bool, error) {
	restartIdx, err := blk.findRestartPoint(key)
	if err != nil {
		return nil, false, err
	}

	start := int(blk.restartPoints[restartIdx])
	end := blk.entriesEnd()
	if restartIdx+1 < len(blk.restartPoints) {
		end = int(blk.restartPoints[restartIdx+1])
	}

	offset := start
	for offset < end {
		entryKey, value, next, err := blk.parseEntry(offset)
		if err != nil {
			return nil, false, err
		}

		switch bytes.Compare(entryKey, key) {
		case 0:
			return value, true, nil
		case 1:
			// keys are sorted; we have passed where it would be
			return nil, false, nil
		}

		offset = next
	}

	return nil, false, nil
}

// Entry is a single decoded (key, value) pair produced by an Iterator.
type Entry struct {
	Key   []byte
	Value []byte
}

// Iterator walks a Block's entries in stored (ascending key) order.
type Iterator struct {
	blk    *Block
	offset int
	err    error
}

// Iterator returns a fresh Iterator positioned before the first entry.
func (blk *Block) Iterator() *Iterator {
	return &Iterator{blk: blk}
}

// Next advances the iterator and reports whether an entry was produced.
func (it *Iterator) Next() (Entry, bool) {
	if it.err != nil {
		return Entry{}, false
	}

	end := it.blk.entriesEnd()
	if it.offset >= end {
		return Entry{}, false
	}

	key, value, next, err := it.blk.parseEntry(it.offset)
	if err != nil {
		it.err = err
		return Entry{}, false
	}

	it.offset = next
	return Entry{Key: key, Value: value}, true
}

// Err returns the first error encountered while iterating, if any.
func (it *Iterator) Err() error {
	return it.err
}

