// Package memtable provides the in-memory, ordered key-value buffer that
// absorbs writes ahead of an SSTable flush. It is backed by a skip list
// keyed on the string form of the engine's byte-slice keys, since a skip
// list node needs an ordered key type and []byte isn't one.
package memtable

import "iter"

type ordered interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64 |
		~string
}

// Record is a single key/value pair stored in a skip list.
type Record[K ordered, V any] struct {
	Key   K
	Value V
}

// entry is the value a memtable stores per key: the sequence number it was
// written at, and either its value or a tombstone marking it deleted.
type entry struct {
	seq       uint64
	value     []byte
	tombstone bool
}

// Entry is the externally-visible form of a stored record.
type Entry struct {
	Key       []byte
	Value     []byte
	Seq       uint64
	Tombstone bool
}

// entryOverhead is the fixed per-entry cost added to the size estimate on
// top of each write's key and value bytes.
const entryOverhead = 16

// Memtable is an ordered, in-memory buffer of recent writes. It assigns each
// write a strictly increasing sequence number and never removes entries on
// delete, only shadows them with a tombstone, so older readers and
// lower-level SSTables can still tell a deletion from an absence.
type Memtable struct {
	list     *SkipList[string, entry]
	size     int
	maxSize  int
	nextSeq  uint64
	baseSeq  uint64
}

// New returns an empty memtable that reports itself full once its
// approximate size reaches maxSize bytes. baseSeq is the first sequence
// number it will assign, letting the engine keep sequence numbers
// monotonic across memtable generations.
func New(maxSize int, baseSeq uint64) *Memtable {
	return &Memtable{
		list:    NewSkipList[string, entry](),
		maxSize: maxSize,
		nextSeq: baseSeq,
		baseSeq: baseSeq,
	}
}

func (m *Memtable) assignSeq() uint64 {
	seq := m.nextSeq
	m.nextSeq++
	return seq
}

// Put stores value under key, returning the sequence number assigned to the
// write. Size accounting is a conservative overestimate: overwriting an
// existing key adds the new entry's footprint without subtracting the old
// one's, so ApproximateSize can only ever over-report, never under-report,
// how much a flush would need to write.
func (m *Memtable) Put(key, value []byte) uint64 {
	seq := m.assignSeq()
	m.list.Put(string(key), entry{seq: seq, value: value})
	m.size += len(key) + len(value) + entryOverhead
	return seq
}

// Delete records a tombstone for key, returning the sequence number
// assigned to it.
func (m *Memtable) Delete(key []byte) uint64 {
	seq := m.assignSeq()
	m.list.Put(string(key), entry{seq: seq, tombstone: true})
	m.size += len(key) + entryOverhead
	return seq
}

// Get returns the most recent entry for key. found is false only if the key
// has never been written to this memtable; a tombstone is returned as
// found=true with Tombstone=true, letting callers stop a read from falling
// through to older data.
func (m *Memtable) Get(key []byte) (Entry, bool) {
	e, ok := m.list.Get(string(key))
	if !ok {
		return Entry{}, false
	}
	return Entry{Key: key, Value: e.value, Seq: e.seq, Tombstone: e.tombstone}, true
}

// IsFull reports whether the memtable has reached its configured size
// budget and should be swapped out for a new one.
func (m *Memtable) IsFull() bool {
	return m.size >= m.maxSize
}

// ApproximateSize returns the conservative estimate of bytes this memtable
// would need to flush.
func (m *Memtable) ApproximateSize() int {
	return m.size
}

// Len returns the number of distinct keys stored, tombstones included.
func (m *Memtable) Len() int {
	return m.list.Len()
}

// NextSeq returns the sequence number the next write will be assigned.
func (m *Memtable) NextSeq() uint64 {
	return m.nextSeq
}

// Iterator walks every entry in ascending key order, tombstones included.
func (m *Memtable) Iterator() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for rec := range m.list.Iterator() {
			e := Entry{Key: []byte(rec.Key), Value: rec.Value.value, Seq: rec.Value.seq, Tombstone: rec.Value.tombstone}
			if !yield(e) {
				return
			}
		}
	}
}

// Range walks entries whose key k satisfies start <= k < end, tombstones
// included. A nil end disables the upper bound.
func (m *Memtable) Range(start, end []byte) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for rec := range m.list.Range(string(start), string(end), end != nil) {
			e := Entry{Key: []byte(rec.Key), Value: rec.Value.value, Seq: rec.Value.seq, Tombstone: rec.Value.tombstone}
			if !yield(e) {
				return
			}
		}
	}
}
