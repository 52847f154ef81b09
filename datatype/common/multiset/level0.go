package multiset

import (
	"fmt"

	"github.com/janelia-flyem/labelset/dvid"
)

// FromLabels converts a raster-ordered (x fastest) array of labels into a block where each
// voxel is the singleton list {label: 1}.  Lists are deduplicated by label so the arena
// grows with the number of distinct labels, not voxels.
func FromLabels(size dvid.Point3d, labels []uint64) (*Block, error) {
	if !size.Positive() {
		return nil, fmt.Errorf("bad block size %s", size)
	}
	if int64(len(labels)) != size.Prod() {
		return nil, fmt.Errorf("block size %s requires %d labels, got %d", size, size.Prod(), len(labels))
	}
	arena := NewArena(4 * ListSize(1))
	si := newSingletonInterner(arena, 1)
	b := EmptyBlock(size)
	for i, label := range labels {
		b.Offsets[i] = si.intern(label)
	}
	b.Data = arena.Bytes()
	return b, nil
}
