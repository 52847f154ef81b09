package multiset

import (
	"fmt"
	"math"
)

// Arena is an append-only byte buffer of entry lists.  Bytes of an appended list are never
// modified, so offsets handed out remain valid for the arena's lifetime and may be shared by
// any number of voxels.
type Arena struct {
	data []byte
}

// NewArena returns an arena with capacity for approximately capacityHint bytes.
func NewArena(capacityHint int) *Arena {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Arena{data: make([]byte, 0, capacityHint)}
}

// Append copies b to the end of the arena and returns its starting offset.
func (a *Arena) Append(b []byte) int32 {
	offset := len(a.data)
	if offset+len(b) > math.MaxInt32 {
		panic(fmt.Sprintf("arena would exceed %d bytes", math.MaxInt32))
	}
	a.data = append(a.data, b...)
	return int32(offset)
}

// Len returns the number of bytes written.
func (a *Arena) Len() int {
	return len(a.data)
}

// Bytes returns the written bytes.  The caller must not modify them.
func (a *Arena) Bytes() []byte {
	return a.data
}

// List returns a view of the list at the given offset, which must have been returned by Append.
func (a *Arena) List(offset int32) EntryList {
	n := EntryList(a.data[offset:]).Len()
	return EntryList(a.data[offset : int(offset)+ListSize(n)])
}

// Interner deduplicates entry lists written to an arena.  It is scoped to the construction
// of a single block and is not safe for concurrent use.
type Interner struct {
	arena   *Arena
	offsets map[uint64][]int32 // content hash -> offsets of distinct lists with that hash
	hash    func(EntryList) uint64
	scratch []byte
}

// NewInterner returns an Interner appending to the given arena.
func NewInterner(arena *Arena) *Interner {
	return &Interner{
		arena:   arena,
		offsets: make(map[uint64][]int32),
		hash:    EntryList.Hash,
	}
}

// Arena returns the arena being written.
func (in *Interner) Arena() *Arena {
	return in.arena
}

// Distinct returns the number of distinct lists written.
func (in *Interner) Distinct() int {
	var n int
	for _, offsets := range in.offsets {
		n += len(offsets)
	}
	return n
}

// Intern returns the offset of a list with content identical to the encoded list, appending
// it only if no such list has been written through this Interner.  Hash collisions are
// resolved by a full comparison.
func (in *Interner) Intern(list EntryList) int32 {
	hash := in.hash(list)
	candidates := in.offsets[hash]
	for _, offset := range candidates {
		if in.arena.List(offset).Equal(list) {
			return offset
		}
	}
	offset := in.arena.Append(list)
	in.offsets[hash] = append(candidates, offset)
	return offset
}

// InternEntries encodes sorted entries and interns the result.
func (in *Interner) InternEntries(entries []Entry) int32 {
	in.scratch = appendEntries(in.scratch[:0], entries)
	return in.Intern(EntryList(in.scratch))
}

// singletonInterner deduplicates single-entry lists keyed directly by label id.
type singletonInterner struct {
	arena   *Arena
	offsets map[uint64]int32
	count   int32
	scratch []byte
}

func newSingletonInterner(arena *Arena, count int32) *singletonInterner {
	return &singletonInterner{
		arena:   arena,
		offsets: make(map[uint64]int32),
		count:   count,
		scratch: make([]byte, 0, ListSize(1)),
	}
}

func (si *singletonInterner) intern(id uint64) int32 {
	if offset, found := si.offsets[id]; found {
		return offset
	}
	si.scratch = appendEntries(si.scratch[:0], []Entry{{ID: id, Count: si.count}})
	offset := si.arena.Append(si.scratch)
	si.offsets[id] = offset
	return offset
}
