// Package walset manages the directory of write-ahead log segments, one per
// memtable generation. Unlike a size-triggered rotating log, a new segment
// here is created only when the engine starts a new memtable, and a segment
// is removed only once the manifest durably records that its memtable has
// been flushed to an SSTable.
package walset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/arjvn/lsmdb/wal"
)

const (
	filePrefix = "wal-"
	fileExt    = ".log"
)

var segmentNamePattern = regexp.MustCompile(`^wal-(\d+)\.log$`)

// Set manages WAL segment files under a single directory.
type Set struct {
	dir string
}

// Open returns a Set rooted at dir, creating the directory if it doesn't
// exist.
func Open(dir string) (*Set, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("walset: mkdir %s: %w", dir, err)
	}
	return &Set{dir: dir}, nil
}

// Path returns the file path for segment seq, regardless of whether it
// exists.
func (s *Set) Path(seq uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", filePrefix, seq, fileExt))
}

// List returns every segment sequence number present on disk, ascending.
func (s *Set) List() ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("walset: read dir %s: %w", s.dir, err)
	}

	var seqs []uint64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		matches := segmentNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}
		seq, err := strconv.ParseUint(matches[1], 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Create makes a brand new, empty segment for seq.
func (s *Set) Create(seq uint64) (*wal.Writer, error) {
	return wal.Create(s.Path(seq))
}

// OpenWriter reopens an existing segment for further appends, as during
// crash recovery of the currently-active memtable's log.
func (s *Set) OpenWriter(seq uint64) (*wal.Writer, error) {
	return wal.Open(s.Path(seq))
}

// NewReader opens segment seq for sequential replay.
func (s *Set) NewReader(seq uint64) (*wal.Reader, error) {
	return wal.NewReader(s.Path(seq))
}

// Remove deletes segment seq. It is not an error if the segment is already
// gone.
func (s *Set) Remove(seq uint64) error {
	if err := os.Remove(s.Path(seq)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("walset: remove %s: %w", s.Path(seq), err)
	}
	return nil
}
