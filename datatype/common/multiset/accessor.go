package multiset

import (
	"fmt"

	"github.com/janelia-flyem/labelset/dvid"
)

// Accessor provides random access to the multisets of a volume at one resolution.
type Accessor interface {
	// Extents returns the inclusive bounds of valid voxels.  Positions outside are
	// never requested through ListAt.
	Extents() (min, max dvid.Point3d)

	// ListAt returns the multiset at a voxel position within the extents.
	ListAt(pos dvid.Point3d) (EntryList, error)
}

// BlockAccessor exposes a Block positioned at Offset in volume coordinates.  Min and Max
// are the valid extents, which default to the block's own span.
type BlockAccessor struct {
	Block  *Block
	Offset dvid.Point3d
	Min    dvid.Point3d
	Max    dvid.Point3d
}

// NewBlockAccessor returns an accessor whose extents are exactly the block's voxels.
func NewBlockAccessor(b *Block, offset dvid.Point3d) *BlockAccessor {
	return &BlockAccessor{
		Block:  b,
		Offset: offset,
		Min:    offset,
		Max:    offset.Add(b.Size).Sub(dvid.Point3d{1, 1, 1}),
	}
}

func (ba *BlockAccessor) Extents() (min, max dvid.Point3d) {
	return ba.Min, ba.Max
}

func (ba *BlockAccessor) ListAt(pos dvid.Point3d) (EntryList, error) {
	rel := pos.Sub(ba.Offset)
	if !rel.Inside(dvid.Point3d{}, ba.Block.Size.Sub(dvid.Point3d{1, 1, 1})) {
		return nil, fmt.Errorf("position %s not within block of size %s at %s", pos, ba.Block.Size, ba.Offset)
	}
	return ba.Block.AtPoint(rel[0], rel[1], rel[2]), nil
}
