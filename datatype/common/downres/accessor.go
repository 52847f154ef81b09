package downres

import (
	"context"

	"github.com/janelia-flyem/labelset/datatype/common/multiset"
	"github.com/janelia-flyem/labelset/dvid"
)

// levelAccessor gives voxel access to one level of the pyramid by loading the grid blocks
// that contain requested voxels.  Loaded blocks are kept for the life of the accessor, which
// is a single downscale call.
type levelAccessor struct {
	ctx       context.Context
	loader    *Loader
	t, setup  int
	level     int
	extMin    dvid.Point3d
	extMax    dvid.Point3d
	blocks    map[dvid.ChunkPoint3d]*multiset.Block
	lastChunk dvid.ChunkPoint3d
	lastBlock *multiset.Block
}

func newLevelAccessor(ctx context.Context, l *Loader, t, setup, level int) *levelAccessor {
	extMin, extMax := l.Extents(level)
	return &levelAccessor{
		ctx:    ctx,
		loader: l,
		t:      t,
		setup:  setup,
		level:  level,
		extMin: extMin,
		extMax: extMax,
		blocks: make(map[dvid.ChunkPoint3d]*multiset.Block),
	}
}

func (a *levelAccessor) Extents() (min, max dvid.Point3d) {
	return a.extMin, a.extMax
}

func (a *levelAccessor) ListAt(pos dvid.Point3d) (multiset.EntryList, error) {
	gridSize := a.loader.blockSize
	chunk := pos.Chunk(gridSize)
	block := a.lastBlock
	if block == nil || chunk != a.lastChunk {
		var found bool
		if block, found = a.blocks[chunk]; !found {
			var err error
			block, _, err = a.loader.load(a.ctx, a.t, a.setup, a.level, gridSize, chunk.MinPoint(gridSize))
			if err != nil {
				return nil, err
			}
			a.blocks[chunk] = block
		}
		a.lastChunk, a.lastBlock = chunk, block
	}
	rel := pos.Sub(chunk.MinPoint(gridSize))
	return block.AtPoint(rel[0], rel[1], rel[2]), nil
}
