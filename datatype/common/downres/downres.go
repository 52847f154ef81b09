/*
Package downres provides a system for loading label multiset blocks at any level of a
multi-scale pyramid.  Level 0 is converted from a raw label volume.  Each coarser level is
computed on demand by merging blocks of the next finer level, and the result is cached in a
per-level store so later loads are served without recomputation.  Two workflows are
provided: (1) on-demand loads of single blocks, and (2) builds of whole levels by a pool of
workers.  Mutations of the raw volume can be propagated through all levels.
*/
package downres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/janelia-flyem/labelset/datatype/common/multiset"
	"github.com/janelia-flyem/labelset/datatype/labelblk"
	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

// DefaultBlockSize is the grid block size used when none is configured.
var DefaultBlockSize = dvid.Point3d{64, 64, 64}

// number of striped locks per level serializing the compute and write of cached blocks
const numKeyLocks = 64

// Config is the [pyramid] section of a TOML configuration.
type Config struct {
	BlockSize dvid.Point3d   `toml:"block_size"`
	Factors   []dvid.Point3d `toml:"factors"` // Factors[L-1] downscales level L-1 to level L
	Workers   int            `toml:"workers"` // concurrent blocks when building a level
}

// Loader loads label multiset blocks at every level of a pyramid.  It is safe for
// concurrent use.
type Loader struct {
	source    labelblk.Volume
	stores    []storage.Store // stores[L-1] caches level L
	factors   []dvid.Point3d
	blockSize dvid.Point3d
	workers   int

	activity *storage.ActivityLog
	flight   singleflight.Group

	// keyLocks[L-1] serializes cache lookups and writes with recomputes at level L.  A
	// block only holds the lock of its own level while loading finer levels, so locks are
	// always taken from coarse to fine.
	keyLocks [][numKeyLocks]sync.Mutex
}

// NewLoader returns a loader over the given source with one cache store per level above 0.
// The activity log may be nil.
func NewLoader(source labelblk.Volume, config Config, stores []storage.Store, activity *storage.ActivityLog) (*Loader, error) {
	if len(stores) != len(config.Factors) {
		return nil, fmt.Errorf("need one store per downscaled level: %d levels, %d stores",
			len(config.Factors), len(stores))
	}
	for level, f := range config.Factors {
		if !f.Positive() {
			return nil, fmt.Errorf("level %d: %w: %s", level+1, multiset.ErrBadFactors, f)
		}
	}
	blockSize := config.BlockSize
	if blockSize == (dvid.Point3d{}) {
		blockSize = DefaultBlockSize
	}
	if !blockSize.Positive() {
		return nil, fmt.Errorf("bad block size %s", blockSize)
	}
	workers := config.Workers
	if workers < 1 {
		workers = 1
	}
	return &Loader{
		source:    source,
		stores:    stores,
		factors:   config.Factors,
		blockSize: blockSize,
		workers:   workers,
		activity:  activity,
		keyLocks:  make([][numKeyLocks]sync.Mutex, len(config.Factors)),
	}, nil
}

// NumLevels returns the number of levels including level 0.
func (l *Loader) NumLevels() int {
	return len(l.factors) + 1
}

// BlockSize returns the grid block size of every level.
func (l *Loader) BlockSize() dvid.Point3d {
	return l.blockSize
}

// Factors returns the factors used to downscale level-1 to the given level.
func (l *Loader) Factors(level int) dvid.Point3d {
	return l.factors[level-1]
}

// Store returns the cache store of a level above 0.
func (l *Loader) Store(level int) storage.Store {
	return l.stores[level-1]
}

func (l *Loader) keyLock(level int, key string) *sync.Mutex {
	return &l.keyLocks[level-1][xxhash.Sum64String(key)%numKeyLocks]
}

// onGrid returns true if the box is exactly one grid block.  Only grid blocks are cached,
// so a cache key always refers to a block of the grid block size.
func (l *Loader) onGrid(size, min dvid.Point3d) bool {
	return size == l.blockSize && min == min.Chunk(l.blockSize).MinPoint(l.blockSize)
}

func (l *Loader) checkLevel(level int) error {
	if level < 0 || level >= l.NumLevels() {
		return fmt.Errorf("level %d not in pyramid with levels 0 to %d", level, l.NumLevels()-1)
	}
	return nil
}

// Extents returns the inclusive voxel extents of a level.  Level 0 is the source bounds,
// and each coarser level covers the previous extents divided by its factors, rounding out.
func (l *Loader) Extents(level int) (min, max dvid.Point3d) {
	min, max = l.source.Bounds()
	for i := 0; i < level; i++ {
		min = dvid.Point3d(min.Chunk(l.factors[i]))
		max = dvid.Point3d(max.Chunk(l.factors[i]))
	}
	return
}

// ElementsPerVoxel returns the number of level-0 voxels represented by each voxel of a level,
// which is the sum of the counts of every entry list at that level.
func (l *Loader) ElementsPerVoxel(level int) int32 {
	n := int32(1)
	for i := 0; i < level; i++ {
		n *= int32(l.factors[i].Prod())
	}
	return n
}

// LoadBlock returns the block of the given size at voxel min of a level.  Blocks entirely
// outside the level are background.  A failed read of the raw source produces a
// background block unless the context is done, which returns the context's error.  Above
// level 0 a cached grid block is returned when available; otherwise the block is computed
// from the next finer level and written back to the cache, ignoring write failures.  Boxes
// other than a grid block are assembled from the grid blocks they intersect.  Each call
// returns a block the caller may modify.
func (l *Loader) LoadBlock(ctx context.Context, t, setup, level int, size, min dvid.Point3d) (*multiset.Block, error) {
	block, _, err := l.load(ctx, t, setup, level, size, min)
	return block, err
}

type loadResult struct {
	block   *multiset.Block
	outcome Outcome
}

func (l *Loader) load(ctx context.Context, t, setup, level int, size, min dvid.Point3d) (*multiset.Block, Outcome, error) {
	if err := l.checkLevel(level); err != nil {
		return nil, OutcomeNone, err
	}
	if !size.Positive() {
		return nil, OutcomeNone, fmt.Errorf("bad block size %s", size)
	}
	emin, emax := l.Extents(level)
	hi := min.Add(size).Sub(dvid.Point3d{1, 1, 1})
	if hi[0] < emin[0] || hi[1] < emin[1] || hi[2] < emin[2] ||
		min[0] > emax[0] || min[1] > emax[1] || min[2] > emax[2] {
		return multiset.BackgroundBlock(size, l.ElementsPerVoxel(level)), OutcomeNone, nil
	}
	if level == 0 {
		block, err := l.loadLevel0(ctx, size, min)
		return block, OutcomeNone, err
	}
	if !l.onGrid(size, min) {
		block, err := l.assemble(ctx, t, setup, level, size, min)
		return block, OutcomeNone, err
	}

	key := CacheKey(t, setup, min)
	for {
		v, err, shared := l.flight.Do(fmt.Sprintf("%d/%s", level, key), func() (interface{}, error) {
			block, outcome, err := l.loadCached(ctx, t, setup, level, size, min, key)
			return loadResult{block, outcome}, err
		})
		if err != nil {
			// a shared load can fail because the leader's context was cancelled.
			if shared && isContextErr(err) && ctx.Err() == nil {
				continue
			}
			return nil, OutcomeNone, err
		}
		res := v.(loadResult)
		if shared {
			return res.block.Clone(), res.outcome, nil
		}
		return res.block, res.outcome, nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (l *Loader) loadLevel0(ctx context.Context, size, min dvid.Point3d) (*multiset.Block, error) {
	labels, err := l.source.Read(ctx, size, min)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("reading labels of size %s at %s: %w", size, min, ctxErr)
		}
		dvid.Errorf("Unable to read labels of size %s at %s, using background: %v\n", size, min, err)
		return multiset.BackgroundBlock(size, 1), nil
	}
	block, err := multiset.FromLabels(size, labels)
	if err != nil {
		dvid.Errorf("Bad labels of size %s at %s, using background: %v\n", size, min, err)
		return multiset.BackgroundBlock(size, 1), nil
	}
	return block, nil
}

// assemble copies the lists of a box from the grid blocks of a level that it intersects.
func (l *Loader) assemble(ctx context.Context, t, setup, level int, size, min dvid.Point3d) (*multiset.Block, error) {
	src := newLevelAccessor(ctx, l, t, setup, level)
	block := multiset.EmptyBlock(size)
	in := multiset.NewInterner(multiset.NewArena(0))
	for i := range block.Offsets {
		list, err := src.ListAt(dvid.IndexToPoint(i, size, min))
		if err != nil {
			return nil, err
		}
		block.Offsets[i] = in.Intern(list)
	}
	block.Data = in.Arena().Bytes()
	return block, nil
}

func (l *Loader) loadCached(ctx context.Context, t, setup, level int, size, min dvid.Point3d, key string) (*multiset.Block, Outcome, error) {
	mu := l.keyLock(level, key)
	mu.Lock()
	defer mu.Unlock()

	store := l.Store(level)
	res := cacheGet(ctx, store, size, int64(l.ElementsPerVoxel(level)), key)
	switch res.Outcome {
	case OutcomeHit:
		return res.Block, OutcomeHit, nil
	case OutcomeFault:
		dvid.Warningf("Recomputing level %d block %q after cache fault in %s: %v\n", level, key, store, res.Err)
		l.activity.Log(map[string]interface{}{
			"event": "cache-fault",
			"level": level,
			"key":   key,
			"error": res.Err.Error(),
		})
	}
	block, err := l.compute(ctx, t, setup, level, size, min, key)
	if err != nil {
		return nil, res.Outcome, err
	}
	return block, res.Outcome, nil
}

// compute downscales the block from level-1 and writes it to the level's cache.  The caller
// holds the block's key lock.
func (l *Loader) compute(ctx context.Context, t, setup, level int, size, min dvid.Point3d, key string) (*multiset.Block, error) {
	timedLog := dvid.NewTimeLog()
	src := newLevelAccessor(ctx, l, t, setup, level-1)
	block, err := multiset.Downscale(src, size, min, l.factors[level-1], l.ElementsPerVoxel(level-1))
	if err != nil {
		return nil, fmt.Errorf("computing level %d block %q: %w", level, key, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("computing level %d block %q: %w", level, key, err)
	}
	elapsed := timedLog.Elapsed()
	numBytes := cachePut(ctx, l.Store(level), key, block)

	if dvid.LogMode() == dvid.DebugMode {
		timedLog.Debugf("Computed level %d block %q: %d distinct lists, %s arena, %s in memory",
			level, key, block.DistinctLists(), humanize.Bytes(uint64(len(block.Data))),
			humanize.Bytes(footprint(block)))
	}
	l.activity.Log(map[string]interface{}{
		"event":    "block-computed",
		"level":    level,
		"key":      key,
		"bytes":    numBytes,
		"lists":    block.DistinctLists(),
		"duration": elapsed.Seconds(),
	})
	return block, nil
}

// Recompute computes a grid block from the next finer level regardless of any cached value
// and overwrites the cache.  It waits for any load of the same block that could write an
// older result.
func (l *Loader) Recompute(ctx context.Context, t, setup, level int, size, min dvid.Point3d) (*multiset.Block, error) {
	if err := l.checkLevel(level); err != nil {
		return nil, err
	}
	if level == 0 {
		return l.loadLevel0(ctx, size, min)
	}
	if !l.onGrid(size, min) {
		return nil, fmt.Errorf("can only recompute grid blocks of size %s, not %s at %s", l.blockSize, size, min)
	}
	key := CacheKey(t, setup, min)
	mu := l.keyLock(level, key)
	mu.Lock()
	defer mu.Unlock()
	return l.compute(ctx, t, setup, level, size, min, key)
}

// CheckStores verifies each level store's recorded layout against this pyramid, recording
// the layout in stores that have none.
func (l *Loader) CheckStores(ctx context.Context) error {
	for level := 1; level < l.NumLevels(); level++ {
		expected := storage.Metadata{
			Version:   storage.FormatVersion,
			Level:     uint8(level),
			BlockSize: l.blockSize,
			Factors:   l.factors[level-1],
		}
		if err := storage.CheckMetadata(ctx, l.Store(level), expected); err != nil {
			return fmt.Errorf("level %d: %w", level, err)
		}
	}
	return nil
}

// Close closes the activity log and every level store.
func (l *Loader) Close() error {
	l.activity.Close()
	var firstErr error
	for _, store := range l.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
