package multiset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// ListHeaderSize is the number of bytes preceding the entries of a list.
	ListHeaderSize = 4

	// EntrySize is the number of bytes for each (id, count) entry.
	EntrySize = 12
)

// ErrMalformed is returned when stored bytes cannot be interpreted as a well-formed entry
// list or block.  It signals a data format problem rather than a transient I/O failure.
var ErrMalformed = errors.New("malformed entry list")

// Entry is a label and the number of elementary voxels with that label.
type Entry struct {
	ID    uint64
	Count int32
}

func (e Entry) String() string {
	return fmt.Sprintf("{%d:%d}", e.ID, e.Count)
}

// ListSize returns the number of bytes required to store a list with n entries.
func ListSize(n int) int {
	return ListHeaderSize + n*EntrySize
}

// AppendEntries appends the encoding of entries to dst.  Entries must already be sorted by
// strictly ascending id with positive counts.
func AppendEntries(dst []byte, entries []Entry) ([]byte, error) {
	if err := checkEntries(entries); err != nil {
		return dst, err
	}
	return appendEntries(dst, entries), nil
}

// EncodeEntries returns the encoding of a sorted list of entries.
func EncodeEntries(entries []Entry) ([]byte, error) {
	return AppendEntries(make([]byte, 0, ListSize(len(entries))), entries)
}

func appendEntries(dst []byte, entries []Entry) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(entries)))
	for _, e := range entries {
		dst = binary.LittleEndian.AppendUint64(dst, e.ID)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(e.Count))
	}
	return dst
}

func checkEntries(entries []Entry) error {
	for i, e := range entries {
		if e.Count < 1 {
			return fmt.Errorf("%w: entry %d has count %d", ErrMalformed, i, e.Count)
		}
		if i > 0 && entries[i-1].ID >= e.ID {
			return fmt.Errorf("%w: ids not strictly ascending at entry %d (%d >= %d)",
				ErrMalformed, i, entries[i-1].ID, e.ID)
		}
	}
	return nil
}

// EntryList is a read-only view of an encoded list.  It does not own its bytes, which
// are usually a sub-slice of an arena.
type EntryList []byte

// DecodeEntryList returns a validated view of the list starting at offset within data.
// No bytes are copied.
func DecodeEntryList(data []byte, offset int) (EntryList, error) {
	if offset < 0 || offset+ListHeaderSize > len(data) {
		return nil, fmt.Errorf("%w: offset %d outside %d bytes", ErrMalformed, offset, len(data))
	}
	n := binary.LittleEndian.Uint32(data[offset:])
	if uint64(n) > uint64(len(data)-offset-ListHeaderSize)/EntrySize {
		return nil, fmt.Errorf("%w: %d entries at offset %d overrun %d bytes", ErrMalformed, n, offset, len(data))
	}
	list := EntryList(data[offset : offset+ListSize(int(n))])
	if err := list.validate(); err != nil {
		return nil, fmt.Errorf("%w at offset %d", err, offset)
	}
	return list, nil
}

func (l EntryList) validate() error {
	n := l.Len()
	var prev uint64
	for i := 0; i < n; i++ {
		e := l.At(i)
		if e.Count < 1 {
			return fmt.Errorf("%w: entry %d has count %d", ErrMalformed, i, e.Count)
		}
		if i > 0 && prev >= e.ID {
			return fmt.Errorf("%w: ids not strictly ascending at entry %d", ErrMalformed, i)
		}
		prev = e.ID
	}
	return nil
}

// Len returns the number of entries.
func (l EntryList) Len() int {
	if len(l) < ListHeaderSize {
		return 0
	}
	return int(binary.LittleEndian.Uint32(l))
}

// At returns the i-th entry without bounds checking beyond the slice.
func (l EntryList) At(i int) Entry {
	pos := ListHeaderSize + i*EntrySize
	return Entry{
		ID:    binary.LittleEndian.Uint64(l[pos:]),
		Count: int32(binary.LittleEndian.Uint32(l[pos+8:])),
	}
}

// Entries returns a copy of the entries.
func (l EntryList) Entries() []Entry {
	n := l.Len()
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = l.At(i)
	}
	return entries
}

// SizeInBytes returns the encoded size of the list.
func (l EntryList) SizeInBytes() int {
	return ListSize(l.Len())
}

// Sum returns the total count over all entries, i.e., the number of elementary voxels.
func (l EntryList) Sum() int64 {
	var sum int64
	for i, n := 0, l.Len(); i < n; i++ {
		sum += int64(l.At(i).Count)
	}
	return sum
}

// Count returns the count for the given label or 0 if it's not present.
func (l EntryList) Count(id uint64) int32 {
	lo, hi := 0, l.Len()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		e := l.At(mid)
		switch {
		case e.ID == id:
			return e.Count
		case e.ID < id:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0
}

// Argmax returns the label with the highest count, preferring the lower label on ties.
func (l EntryList) Argmax() (id uint64, count int32) {
	n := l.Len()
	if n == 0 {
		return 0, 0
	}
	count = math.MinInt32
	for i := 0; i < n; i++ {
		if e := l.At(i); e.Count > count {
			id, count = e.ID, e.Count
		}
	}
	return
}

// Equal returns true if both lists have identical entries.  Since lists are canonical
// (sorted, unique ids), this is a byte comparison.
func (l EntryList) Equal(other EntryList) bool {
	return bytes.Equal(l, other)
}

// Hash returns a content hash over ids and counts.  Equal lists have equal hashes but
// the converse does not hold, so a hash match must be confirmed with Equal.
func (l EntryList) Hash() uint64 {
	return xxhash.Sum64(l)
}

func (l EntryList) String() string {
	n := l.Len()
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = l.At(i).String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}
