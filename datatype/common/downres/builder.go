package downres

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/labelset/dvid"
)

// BuildStats summarizes the building of a level.
type BuildStats struct {
	Level    int
	Blocks   int64 // grid blocks within the level extents
	Hits     int64 // blocks already cached
	Computed int64 // blocks computed and written
	Elapsed  time.Duration
}

func (s BuildStats) String() string {
	return fmt.Sprintf("level %d: %s blocks (%s cached, %s computed) in %s", s.Level,
		humanize.Comma(s.Blocks), humanize.Comma(s.Hits), humanize.Comma(s.Computed), s.Elapsed)
}

// GridBlocks returns the minimum voxel of every grid block intersecting a level's extents.
func (l *Loader) GridBlocks(level int) []dvid.Point3d {
	emin, emax := l.Extents(level)
	beg, end := emin.Chunk(l.blockSize), emax.Chunk(l.blockSize)
	var mins []dvid.Point3d
	for z := beg[2]; z <= end[2]; z++ {
		for y := beg[1]; y <= end[1]; y++ {
			for x := beg[0]; x <= end[0]; x++ {
				mins = append(mins, dvid.ChunkPoint3d{x, y, z}.MinPoint(l.blockSize))
			}
		}
	}
	return mins
}

// BuildLevel loads every grid block of a level using the configured number of workers so
// that all blocks of the level are cached.  Finer levels are cached as a side effect.
func (l *Loader) BuildLevel(ctx context.Context, t, setup, level int) (BuildStats, error) {
	stats := BuildStats{Level: level}
	if err := l.checkLevel(level); err != nil {
		return stats, err
	}
	if level == 0 {
		return stats, fmt.Errorf("level 0 is read from the source and cannot be built")
	}
	timedLog := dvid.NewTimeLog()
	mins := l.GridBlocks(level)
	stats.Blocks = int64(len(mins))

	var hits, computed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for _, min := range mins {
		min := min
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, outcome, err := l.load(gctx, t, setup, level, l.blockSize, min)
			if err != nil {
				return err
			}
			if outcome == OutcomeHit {
				atomic.AddInt64(&hits, 1)
			} else {
				atomic.AddInt64(&computed, 1)
			}
			return nil
		})
	}
	err := g.Wait()
	stats.Hits = atomic.LoadInt64(&hits)
	stats.Computed = atomic.LoadInt64(&computed)
	stats.Elapsed = timedLog.Elapsed()
	if err != nil {
		return stats, fmt.Errorf("building level %d: %w", level, err)
	}
	timedLog.Infof("Built %s", stats)
	return stats, nil
}
