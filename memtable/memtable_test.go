package memtable

import (
	"fmt"
	"testing"
)

func TestPutThenGetReadsOwnWrite(t *testing.T) {
	m := New(1<<20, 0)

	m.Put([]byte("key1"), []byte("value1"))

	e, ok := m.Get([]byte("key1"))
	if !ok || e.Tombstone || string(e.Value) != "value1" {
		t.Fatalf("expected (value1,false,true), got (%q,%v,%v)", e.Value, e.Tombstone, ok)
	}
}

func TestDeleteShadowsPreviousPut(t *testing.T) {
	m := New(1<<20, 0)

	m.Put([]byte("key1"), []byte("value1"))
	m.Delete([]byte("key1"))

	e, ok := m.Get([]byte("key1"))
	if !ok || !e.Tombstone {
		t.Fatalf("expected tombstone entry, got (%+v,%v)", e, ok)
	}
}

func TestDeleteOfUnknownKeyIsStillRecorded(t *testing.T) {
	m := New(1<<20, 0)

	m.Delete([]byte("ghost"))

	e, ok := m.Get([]byte("ghost"))
	if !ok || !e.Tombstone {
		t.Fatalf("expected a tombstone for a never-written key")
	}
}

func TestSequenceNumbersAreStrictlyIncreasing(t *testing.T) {
	m := New(1<<20, 0)

	seqs := make([]uint64, 0, 10)
	for i := 0; i < 10; i++ {
		seqs = append(seqs, m.Put([]byte(fmt.Sprintf("key%d", i)), []byte("v")))
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("sequence numbers not strictly increasing: %v", seqs)
		}
	}
}

func TestSequenceNumbersContinueFromBase(t *testing.T) {
	m := New(1<<20, 100)

	seq := m.Put([]byte("key1"), []byte("value1"))
	if seq != 100 {
		t.Fatalf("expected first seq to be base 100, got %d", seq)
	}
	if m.NextSeq() != 101 {
		t.Fatalf("expected next seq 101, got %d", m.NextSeq())
	}
}

func TestIsFullRespectsSizeBudget(t *testing.T) {
	m := New(20, 0)

	if m.IsFull() {
		t.Fatal("expected empty memtable to not be full")
	}

	m.Put([]byte("key1"), []byte("0123456789012345"))

	if !m.IsFull() {
		t.Fatalf("expected memtable to be full after exceeding budget, size=%d", m.ApproximateSize())
	}
}

func TestIsFullOverestimatesOnOverwrite(t *testing.T) {
	m := New(100, 0)

	m.Put([]byte("key1"), []byte("0123456789"))
	sizeAfterFirst := m.ApproximateSize()

	m.Put([]byte("key1"), []byte("9876543210"))
	sizeAfterSecond := m.ApproximateSize()

	if sizeAfterSecond <= sizeAfterFirst {
		t.Fatalf("expected overwrite to conservatively add to size estimate, got %d then %d", sizeAfterFirst, sizeAfterSecond)
	}
}

func TestIteratorIsAscendingAndIncludesTombstones(t *testing.T) {
	m := New(1<<20, 0)

	m.Put([]byte("banana"), []byte("yellow"))
	m.Put([]byte("apple"), []byte("red"))
	m.Delete([]byte("cherry"))

	var keys []string
	var tombstones []bool
	for e := range m.Iterator() {
		keys = append(keys, string(e.Key))
		tombstones = append(tombstones, e.Tombstone)
	}

	wantKeys := []string{"apple", "banana", "cherry"}
	if len(keys) != len(wantKeys) {
		t.Fatalf("got %v, want %v", keys, wantKeys)
	}
	for i, k := range wantKeys {
		if keys[i] != k {
			t.Fatalf("iterator order mismatch at %d: got %q want %q", i, keys[i], k)
		}
	}
	if tombstones[2] != true {
		t.Fatal("expected cherry to be a tombstone")
	}
}

func TestRangeIsHalfOpen(t *testing.T) {
	m := New(1<<20, 0)

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		m.Put([]byte(k), []byte(k))
	}

	var got []string
	for e := range m.Range([]byte("b"), []byte("d")) {
		got = append(got, string(e.Key))
	}

	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range mismatch at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestGetOnMissingKey(t *testing.T) {
	m := New(1<<20, 0)

	if _, ok := m.Get([]byte("nope")); ok {
		t.Fatal("expected missing key to report not found")
	}
}
