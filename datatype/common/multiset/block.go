package multiset

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/janelia-flyem/labelset/dvid"
)

// Block is a 3d array of label multisets.  Offsets holds, for every voxel in raster order
// (x fastest, then y, then z), the starting offset of its entry list within Data.
// Voxels with identical multisets may share an offset.
type Block struct {
	Size    dvid.Point3d
	Offsets []int32
	Data    []byte
}

// NumVoxels returns the number of voxels in the block.
func (b *Block) NumVoxels() int {
	return len(b.Offsets)
}

// At returns the entry list for the voxel at the given raster index.
func (b *Block) At(i int) EntryList {
	offset := b.Offsets[i]
	n := EntryList(b.Data[offset:]).Len()
	return EntryList(b.Data[offset : int(offset)+ListSize(n)])
}

// AtPoint returns the entry list for a block-relative voxel coordinate.
func (b *Block) AtPoint(x, y, z int32) EntryList {
	return b.At(int(z)*int(b.Size[0])*int(b.Size[1]) + int(y)*int(b.Size[0]) + int(x))
}

// Validate checks that the size matches the offsets and that every offset refers to a
// well-formed, non-empty list.  Errors wrap ErrMalformed.
func (b *Block) Validate() error {
	if !b.Size.Positive() {
		return fmt.Errorf("%w: bad block size %s", ErrMalformed, b.Size)
	}
	if int64(len(b.Offsets)) != b.Size.Prod() {
		return fmt.Errorf("%w: block size %s requires %d offsets, got %d",
			ErrMalformed, b.Size, b.Size.Prod(), len(b.Offsets))
	}
	checked := make(map[int32]struct{})
	for i, offset := range b.Offsets {
		if _, found := checked[offset]; found {
			continue
		}
		list, err := DecodeEntryList(b.Data, int(offset))
		if err != nil {
			return fmt.Errorf("voxel %d: %w", i, err)
		}
		if list.Len() == 0 {
			return fmt.Errorf("%w: voxel %d has an empty list at offset %d", ErrMalformed, i, offset)
		}
		checked[offset] = struct{}{}
	}
	return nil
}

// CheckSums verifies that every voxel's list sums to the given number of elements.
// Errors wrap ErrMalformed.
func (b *Block) CheckSums(expected int64) error {
	checked := make(map[int32]struct{})
	for i, offset := range b.Offsets {
		if _, found := checked[offset]; found {
			continue
		}
		if sum := b.At(i).Sum(); sum != expected {
			return fmt.Errorf("%w: voxel %d sums to %d, expected %d", ErrMalformed, i, sum, expected)
		}
		checked[offset] = struct{}{}
	}
	return nil
}

// EmptyBlock returns a block of the given size whose offsets are all zero and whose arena
// is empty.  Callers fill in the offsets and data.  It is allocated per call.
func EmptyBlock(size dvid.Point3d) *Block {
	return &Block{
		Size:    size,
		Offsets: make([]int32, size.Prod()),
	}
}

// BackgroundBlock returns a block where every voxel is the single entry {0: count}.
// All voxels share one list.
func BackgroundBlock(size dvid.Point3d, count int32) *Block {
	b := EmptyBlock(size)
	b.Data = appendEntries(make([]byte, 0, ListSize(1)), []Entry{{ID: 0, Count: count}})
	return b
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	c := &Block{
		Size:    b.Size,
		Offsets: make([]int32, len(b.Offsets)),
		Data:    make([]byte, len(b.Data)),
	}
	copy(c.Offsets, b.Offsets)
	copy(c.Data, b.Data)
	return c
}

// MarshalBinary returns the wire form: little-endian int32 offsets followed by the arena
// bytes of only the lists reachable from those offsets.  Offsets are rewritten to be
// relative to the written arena when unreachable bytes are dropped.
func (b *Block) MarshalBinary() ([]byte, error) {
	offsets, data := b.trimmed()
	out := make([]byte, 4*len(offsets)+len(data))
	for i, offset := range offsets {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(offset))
	}
	copy(out[4*len(offsets):], data)
	return out, nil
}

// trimmed returns offsets and data where data holds only reachable lists, avoiding a copy
// when the arena is already exactly the reachable lists in offset order.
func (b *Block) trimmed() ([]int32, []byte) {
	distinct := make(map[int32]struct{})
	for _, offset := range b.Offsets {
		distinct[offset] = struct{}{}
	}
	sorted := make([]int32, 0, len(distinct))
	for offset := range distinct {
		sorted = append(sorted, offset)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	contiguous := true
	var pos int
	for _, offset := range sorted {
		if int(offset) != pos {
			contiguous = false
			break
		}
		pos += EntryList(b.Data[offset:]).SizeInBytes()
	}
	if contiguous && pos == len(b.Data) {
		return b.Offsets, b.Data
	}

	remap := make(map[int32]int32, len(sorted))
	data := make([]byte, 0, len(b.Data))
	for _, offset := range sorted {
		list := EntryList(b.Data[offset:])
		remap[offset] = int32(len(data))
		data = append(data, list[:list.SizeInBytes()]...)
	}
	offsets := make([]int32, len(b.Offsets))
	for i, offset := range b.Offsets {
		offsets[i] = remap[offset]
	}
	return offsets, data
}

// UnmarshalBlock reconstructs a block of the given size from its wire form.  The arena is
// a sub-slice of data rather than a copy.  The result is validated so every offset refers
// to a well-formed list; errors wrap ErrMalformed.
func UnmarshalBlock(size dvid.Point3d, data []byte) (*Block, error) {
	if !size.Positive() {
		return nil, fmt.Errorf("%w: bad block size %s", ErrMalformed, size)
	}
	n := size.Prod()
	if int64(len(data)) < 4*n {
		return nil, fmt.Errorf("%w: %d bytes can't hold %d offsets", ErrMalformed, len(data), n)
	}
	b := &Block{
		Size:    size,
		Offsets: make([]int32, n),
		Data:    data[4*n:],
	}
	for i := range b.Offsets {
		b.Offsets[i] = int32(binary.LittleEndian.Uint32(data[4*i:]))
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// ContentEqual returns true if both blocks have the same size and every voxel has an equal
// multiset, regardless of how lists are laid out in the arenas.
func (b *Block) ContentEqual(other *Block) bool {
	if b.Size != other.Size || len(b.Offsets) != len(other.Offsets) {
		return false
	}
	for i := range b.Offsets {
		if !b.At(i).Equal(other.At(i)) {
			return false
		}
	}
	return true
}

// DistinctLists returns the number of distinct offsets used by the block's voxels.
func (b *Block) DistinctLists() int {
	distinct := make(map[int32]struct{})
	for _, offset := range b.Offsets {
		distinct[offset] = struct{}{}
	}
	return len(distinct)
}

// Labels returns the set of labels present in any voxel.
func (b *Block) Labels() *roaring64.Bitmap {
	labels := roaring64.New()
	seen := make(map[int32]struct{})
	for _, offset := range b.Offsets {
		if _, found := seen[offset]; found {
			continue
		}
		seen[offset] = struct{}{}
		list := EntryList(b.Data[offset:])
		for i, n := 0, list.Len(); i < n; i++ {
			labels.Add(list.At(i).ID)
		}
	}
	return labels
}

// Counts returns the total count of elementary voxels per label over the block.
func (b *Block) Counts() map[uint64]int64 {
	counts := make(map[uint64]int64)
	for i := range b.Offsets {
		list := b.At(i)
		for j, n := 0, list.Len(); j < n; j++ {
			e := list.At(j)
			counts[e.ID] += int64(e.Count)
		}
	}
	return counts
}

func (b *Block) String() string {
	return fmt.Sprintf("multiset block %s with %d distinct lists in %d bytes",
		b.Size, b.DistinctLists(), len(b.Data))
}
