package downres

import (
	"context"
	"fmt"
	"sync"

	"github.com/janelia-flyem/labelset/dvid"
)

// Mutation is a stash of changed level-0 boxes whose downscaled blocks must be recomputed.
// Cached blocks are otherwise never invalidated, so any change to the raw volume should be
// followed by a Mutation.  Stores wrapped with groupcache may still serve stale blocks.
type Mutation struct {
	l        *Loader
	t, setup int
	mutID    uint64

	mu      sync.Mutex
	changed map[dvid.ChunkPoint3d]struct{} // level-0 grid blocks
	closed  bool

	done chan struct{}
	err  error
}

// NewMutation returns a new Mutation for stashing changes to a timepoint and setup.
func (l *Loader) NewMutation(t, setup int, mutID uint64) *Mutation {
	return &Mutation{
		l:       l,
		t:       t,
		setup:   setup,
		mutID:   mutID,
		changed: make(map[dvid.ChunkPoint3d]struct{}),
		done:    make(chan struct{}),
	}
}

// MutationID returns the mutation ID associated with this mutation.
func (m *Mutation) MutationID() uint64 {
	if m == nil {
		return 0
	}
	return m.mutID
}

// BoxMutated records that the labels of a level-0 box have changed.
func (m *Mutation) BoxMutated(min, size dvid.Point3d) error {
	if !size.Positive() {
		return fmt.Errorf("bad mutated box size %s", size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("bad attempt to mutate box at %s when mutation %d already closed", min, m.mutID)
	}
	max := min.Add(size).Sub(dvid.Point3d{1, 1, 1})
	addGridBlocks(m.changed, min, max, m.l.blockSize)
	return nil
}

// addGridBlocks adds the grid blocks covering [min, max] to the set.
func addGridBlocks(set map[dvid.ChunkPoint3d]struct{}, min, max, gridSize dvid.Point3d) {
	beg, end := min.Chunk(gridSize), max.Chunk(gridSize)
	for z := beg[2]; z <= end[2]; z++ {
		for y := beg[1]; y <= end[1]; y++ {
			for x := beg[0]; x <= end[0]; x++ {
				set[dvid.ChunkPoint3d{x, y, z}] = struct{}{}
			}
		}
	}
}

// Done asynchronously recomputes and caches every block above level 0 affected by the
// mutation, one level at a time from finest to coarsest.  Use Wait to get the result.
// Calls after the first do nothing.  A load of an affected block that started before Done
// may return the old block, but it cannot overwrite the recomputed one in the cache.
func (m *Mutation) Done(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	changed := m.changed
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		grid := m.l.blockSize
		for level := 1; level < m.l.NumLevels(); level++ {
			f := m.l.factors[level-1]
			next := make(map[dvid.ChunkPoint3d]struct{})
			for chunk := range changed {
				finerMin := chunk.MinPoint(grid)
				finerMax := finerMin.Add(grid).Sub(dvid.Point3d{1, 1, 1})
				addGridBlocks(next, dvid.Point3d(finerMin.Chunk(f)), dvid.Point3d(finerMax.Chunk(f)), grid)
			}
			for chunk := range next {
				if _, err := m.l.Recompute(ctx, m.t, m.setup, level, grid, chunk.MinPoint(grid)); err != nil {
					m.err = fmt.Errorf("mutation %d: %w", m.mutID, err)
					dvid.Errorf("Mutation %d: %v\n", m.mutID, err)
					return
				}
			}
			dvid.Infof("Finished down-resolution processing of %d blocks for mutation %d at level %d.\n",
				len(next), m.mutID, level)
			changed = next
		}
	}()
}

// Wait blocks until the processing started by Done finishes and returns its error.
func (m *Mutation) Wait() error {
	<-m.done
	return m.err
}
