// Package sstable implements the immutable, sorted on-disk file a memtable
// is flushed into.
//
// Layout, in write order:
//
//	data block 0
//	data block 1
//	...
//	data block N
//	index block      (firstKey -> data block offset/length, one entry per data block)
//	bloom filter      (serialized github.com/bits-and-blooms/bloom/v3 filter)
//	footer            (fixed 44 bytes)
//
// Data blocks and the index block share the same restart-point format from
// package block; the index is simply a block whose values are encoded
// (offset, length) pairs instead of user values. Each stored value is
// tagged with one byte marking it a put or a tombstone, so a flushed delete
// can still shadow older data once it reaches this level.
package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"os"
	"sort"

	"github.com/arjvn/lsmdb/block"
	"github.com/arjvn/lsmdb/bloom"
	"github.com/arjvn/lsmdb/config"
)

// ErrCorrupt is returned when an SSTable's footer or structure fails
// validation.
var ErrCorrupt = errors.New("sstable: corrupt")

// ErrTooLarge is returned by Write when a single entry cannot fit even in an
// empty data block.
var ErrTooLarge = errors.New("sstable: entry too large for an empty block")

const footerMagic uint64 = 0x4C534D31535354
const footerSize = 8 + 8 + 8 + 8 + 4 + 8 // indexOffset+indexLen+bloomOffset+bloomLen+numHashes+magic

const (
	tagPut    byte = 0x01
	tagDelete byte = 0x02
)

func encodeValue(value []byte, tombstone bool) []byte {
	tag := tagPut
	if tombstone {
		tag = tagDelete
	}
	out := make([]byte, 1+len(value))
	out[0] = tag
	copy(out[1:], value)
	return out
}

func decodeValue(blob []byte) (value []byte, tombstone bool, err error) {
	if len(blob) == 0 {
		return nil, false, fmt.Errorf("%w: empty value blob", ErrCorrupt)
	}
	switch blob[0] {
	case tagPut:
		return blob[1:], false, nil
	case tagDelete:
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("%w: unknown value tag %#x", ErrCorrupt, blob[0])
	}
}

// Metadata summarizes a written SSTable for the manifest.
type Metadata struct {
	Size       uint64
	NumEntries uint64
	MinKey     []byte
	MaxKey     []byte
}

// Writer builds one SSTable file from a strictly ascending stream of keys.
type Writer struct {
	file   *os.File
	cfg    config.Config
	offset int64

	blockBuilder *block.Builder
	blockFirst   []byte

	indexEntries []indexEntry
	bloomFilter  *bloom.Filter

	minKey, maxKey []byte
	numEntries     uint64
}

type indexEntry struct {
	firstKey []byte
	offset   uint64
	length   uint32
}

// NewWriter creates path and prepares a Writer expecting roughly numKeysHint
// entries (used only to size the bloom filter).
func NewWriter(path string, cfg config.Config, numKeysHint int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", path, err)
	}

	if numKeysHint <= 0 {
		numKeysHint = 1
	}

	return &Writer{
		file:         f,
		cfg:          cfg,
		blockBuilder: block.NewBuilder(cfg.BlockSize, cfg.RestartInterval),
		bloomFilter:  bloom.New(numKeysHint, cfg.BloomBitsPerKey),
	}, nil
}

// Write adds one entry. Keys must be supplied in strictly ascending order;
// the writer does not verify this.
func (w *Writer) Write(key, value []byte, tombstone bool) error {
	if w.minKey == nil || bytes.Compare(key, w.minKey) < 0 {
		w.minKey = append([]byte(nil), key...)
	}
	if w.maxKey == nil || bytes.Compare(key, w.maxKey) > 0 {
		w.maxKey = append([]byte(nil), key...)
	}

	payload := encodeValue(value, tombstone)

	if w.blockBuilder.Empty() {
		w.blockFirst = append([]byte(nil), key...)
	}

	if !w.blockBuilder.Add(key, payload) {
		if err := w.flushBlock(); err != nil {
			return err
		}
		w.blockFirst = append([]byte(nil), key...)
		if !w.blockBuilder.Add(key, payload) {
			return fmt.Errorf("%w (key=%d value=%d)", ErrTooLarge, len(key), len(payload))
		}
	}

	w.bloomFilter.Add(key)
	w.numEntries++
	return nil
}

func (w *Writer) flushBlock() error {
	if w.blockBuilder.Empty() {
		return nil
	}

	blk := w.blockBuilder.Finish()
	data := blk.Bytes()

	n, err := w.file.Write(data)
	if err != nil {
		return fmt.Errorf("sstable: write block: %w", err)
	}

	w.indexEntries = append(w.indexEntries, indexEntry{
		firstKey: w.blockFirst,
		offset:   uint64(w.offset),
		length:   uint32(n),
	})
	w.offset += int64(n)

	w.blockBuilder = block.NewBuilder(w.cfg.BlockSize, w.cfg.RestartInterval)
	return nil
}

// Finish flushes remaining data, writes the index, bloom filter and footer,
// and closes the file. It returns metadata for the manifest entry.
func (w *Writer) Finish() (Metadata, error) {
	if err := w.flushBlock(); err != nil {
		return Metadata{}, err
	}

	indexOffset := uint64(w.offset)
	indexBuilder := block.NewBuilder(maxIndexSize(w.indexEntries), block.DefaultRestartInterval)
	for _, e := range w.indexEntries {
		var buf [12]byte
		binary.LittleEndian.PutUint64(buf[0:8], e.offset)
		binary.LittleEndian.PutUint32(buf[8:12], e.length)
		if !indexBuilder.Add(e.firstKey, buf[:]) {
			return Metadata{}, fmt.Errorf("sstable: index block overflow")
		}
	}
	indexBlock := indexBuilder.Finish()
	indexBytes := indexBlock.Bytes()

	n, err := w.file.Write(indexBytes)
	if err != nil {
		return Metadata{}, fmt.Errorf("sstable: write index: %w", err)
	}
	indexLen := uint64(n)
	w.offset += int64(n)

	bloomOffset := uint64(w.offset)
	var bloomBuf bytes.Buffer
	if err := w.bloomFilter.EncodeTo(&bloomBuf); err != nil {
		return Metadata{}, fmt.Errorf("sstable: encode bloom filter: %w", err)
	}
	n, err = w.file.Write(bloomBuf.Bytes())
	if err != nil {
		return Metadata{}, fmt.Errorf("sstable: write bloom filter: %w", err)
	}
	bloomLen := uint64(n)
	w.offset += int64(n)

	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(footer[0:8], indexOffset)
	binary.LittleEndian.PutUint64(footer[8:16], indexLen)
	binary.LittleEndian.PutUint64(footer[16:24], bloomOffset)
	binary.LittleEndian.PutUint64(footer[24:32], bloomLen)
	binary.LittleEndian.PutUint32(footer[32:36], w.bloomFilter.NumHashes())
	binary.LittleEndian.PutUint64(footer[36:44], footerMagic)

	if _, err := w.file.Write(footer); err != nil {
		return Metadata{}, fmt.Errorf("sstable: write footer: %w", err)
	}
	w.offset += footerSize

	if err := w.file.Sync(); err != nil {
		return Metadata{}, fmt.Errorf("sstable: sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return Metadata{}, fmt.Errorf("sstable: close: %w", err)
	}

	return Metadata{
		Size:       uint64(w.offset),
		NumEntries: w.numEntries,
		MinKey:     w.minKey,
		MaxKey:     w.maxKey,
	}, nil
}

// maxIndexSize sizes the index builder generously: one restart-point-free
// entry per data block, plus the trailing restart array and count field.
func maxIndexSize(entries []indexEntry) int {
	size := 0
	for _, e := range entries {
		size += 8 + len(e.firstKey) + 12 // key_len+val_len header, key, offset+length
	}
	size += (len(entries) + 1) * 4 // restart points, generous upper bound
	size += 4                      // count field
	size += 64                     // slack
	return size
}

// Reader opens a written SSTable for point lookups and range scans.
type Reader struct {
	file   *os.File
	index  []indexEntry
	bloom  *bloom.Filter
}

// Open reads an SSTable's footer, index and bloom filter into memory,
// leaving data blocks to be read on demand.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}
	if info.Size() < footerSize {
		f.Close()
		return nil, fmt.Errorf("%w: file smaller than footer", ErrCorrupt)
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, info.Size()-footerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read footer: %w", err)
	}

	magic := binary.LittleEndian.Uint64(footer[36:44])
	if magic != footerMagic {
		f.Close()
		return nil, fmt.Errorf("%w: bad footer magic", ErrCorrupt)
	}

	indexOffset := binary.LittleEndian.Uint64(footer[0:8])
	indexLen := binary.LittleEndian.Uint64(footer[8:16])
	bloomOffset := binary.LittleEndian.Uint64(footer[16:24])
	bloomLen := binary.LittleEndian.Uint64(footer[24:32])

	indexBytes := make([]byte, indexLen)
	if _, err := f.ReadAt(indexBytes, int64(indexOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read index: %w", err)
	}
	indexBlock, err := block.FromBytes(indexBytes)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: parse index: %w", err)
	}

	var index []indexEntry
	it := indexBlock.Iterator()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if len(e.Value) != 12 {
			f.Close()
			return nil, fmt.Errorf("%w: malformed index entry", ErrCorrupt)
		}
		index = append(index, indexEntry{
			firstKey: e.Key,
			offset:   binary.LittleEndian.Uint64(e.Value[0:8]),
			length:   binary.LittleEndian.Uint32(e.Value[8:12]),
		})
	}
	if err := it.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: iterate index: %w", err)
	}

	bloomBytes := make([]byte, bloomLen)
	if _, err := f.ReadAt(bloomBytes, int64(bloomOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read bloom filter: %w", err)
	}
	flt, err := bloom.Decode(bloomBytes)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: parse bloom filter: %w", err)
	}

	return &Reader{file: f, index: index, bloom: flt}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

func (r *Reader) readBlock(e indexEntry) (*block.Block, error) {
	data := make([]byte, e.length)
	if _, err := r.file.ReadAt(data, int64(e.offset)); err != nil {
		return nil, fmt.Errorf("sstable: read block at %d: %w", e.offset, err)
	}
	return block.FromBytes(data)
}

// blockFor returns the index entry for the block that would contain key, if
// any.
func (r *Reader) blockFor(key []byte) (indexEntry, bool) {
	if len(r.index) == 0 {
		return indexEntry{}, false
	}

	i := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].firstKey, key) > 0
	})
	if i == 0 {
		return indexEntry{}, false
	}
	return r.index[i-1], true
}

// Get returns the value and tombstone status of key, if it is present in
// this SSTable. found is false only when the key doesn't appear at all.
func (r *Reader) Get(key []byte) (value []byte, tombstone bool, found bool, err error) {
	if !r.bloom.MayContain(key) {
		return nil, false, false, nil
	}

	e, ok := r.blockFor(key)
	if !ok {
		return nil, false, false, nil
	}

	blk, err := r.readBlock(e)
	if err != nil {
		return nil, false, false, err
	}

	payload, ok, err := blk.Get(key)
	if err != nil {
		return nil, false, false, err
	}
	if !ok {
		return nil, false, false, nil
	}

	value, tombstone, err = decodeValue(payload)
	if err != nil {
		return nil, false, false, err
	}
	return value, tombstone, true, nil
}

// Entry is a single decoded record produced by Range.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Range walks every entry whose key k satisfies start <= k < end, tombstones
// included. A nil end disables the upper bound.
func (r *Reader) Range(start, end []byte) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		startIdx := 0
		if start != nil {
			startIdx = sort.Search(len(r.index), func(i int) bool {
				return bytes.Compare(r.index[i].firstKey, start) > 0
			})
			if startIdx > 0 {
				startIdx--
			}
		}

		for i := startIdx; i < len(r.index); i++ {
			if end != nil && bytes.Compare(r.index[i].firstKey, end) >= 0 {
				return
			}

			blk, err := r.readBlock(r.index[i])
			if err != nil {
				yield(Entry{}, err)
				return
			}

			it := blk.Iterator()
			for {
				e, ok := it.Next()
				if !ok {
					break
				}
				if start != nil && bytes.Compare(e.Key, start) < 0 {
					continue
				}
				if end != nil && bytes.Compare(e.Key, end) >= 0 {
					return
				}
				value, tombstone, err := decodeValue(e.Value)
				if err != nil {
					yield(Entry{}, err)
					return
				}
				if !yield(Entry{Key: e.Key, Value: value, Tombstone: tombstone}, nil) {
					return
				}
			}
			if err := it.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
		}
	}
}
