package multiset

import (
	"errors"
	"fmt"
	"math"

	"github.com/janelia-flyem/labelset/dvid"
)

// DefaultFactors halves resolution along every axis.
var DefaultFactors = dvid.Point3d{2, 2, 2}

// ErrBadFactors is returned for downscale factors that aren't all positive.
var ErrBadFactors = errors.New("bad downscale factors")

// Downscale computes a block of the given size at a coarser level whose voxel min (in the
// coarser level's coordinates) is min.  Each output voxel o merges the multisets of the
// factors[0]*factors[1]*factors[2] voxels of src starting at (o + min) * factors.
//
// Zero-extension: a contributing position outside src's extents is not skipped.  It
// contributes the background entry {0: nElementsPerInput}, i.e., it counts as background at
// the full weight of a source voxel.  Boundary voxels are therefore biased toward
// background, and every output list sums to factors.Prod() * nElementsPerInput.
func Downscale(src Accessor, size, min, factors dvid.Point3d, nElementsPerInput int32) (*Block, error) {
	if !factors.Positive() {
		return nil, fmt.Errorf("%w: %s", ErrBadFactors, factors)
	}
	if !size.Positive() {
		return nil, fmt.Errorf("bad block size %s", size)
	}
	if nElementsPerInput < 1 {
		return nil, fmt.Errorf("elements per input voxel must be positive, got %d", nElementsPerInput)
	}
	numContribs := int(factors.Prod())
	extMin, extMax := src.Extents()

	block := EmptyBlock(size)
	in := NewInterner(NewArena(64 * ListSize(1)))

	cursors := make([]cursor, numContribs)
	h := make(cursorHeap, 0, numContribs)
	merged := make([]mergedEntry, 0, numContribs)
	entries := make([]Entry, 0, numContribs)

	for o := range block.Offsets {
		base := dvid.IndexToPoint(o, size, min).Mult(factors)
		for i := 0; i < numContribs; i++ {
			pos := dvid.IndexToPoint(i, factors, base)
			if !pos.Inside(extMin, extMax) {
				cursors[i].setSynthetic(nElementsPerInput)
				continue
			}
			list, err := src.ListAt(pos)
			if err != nil {
				return nil, fmt.Errorf("reading source voxel %s for output voxel %s: %w",
					pos, dvid.IndexToPoint(o, size, min), err)
			}
			cursors[i].setStored(list)
		}

		merged = mergeCursors(cursors, &h, merged)
		if len(merged) == 0 {
			return nil, fmt.Errorf("%w: output voxel %s has no contributing entries",
				ErrMalformed, dvid.IndexToPoint(o, size, min))
		}
		entries = entries[:0]
		for _, m := range merged {
			if m.count > math.MaxInt32 {
				return nil, fmt.Errorf("count %d for label %d overflows int32", m.count, m.id)
			}
			entries = append(entries, Entry{ID: m.id, Count: int32(m.count)})
		}
		block.Offsets[o] = in.InternEntries(entries)
	}
	block.Data = in.Arena().Bytes()
	return block, nil
}
