package downres

import (
	"context"
	"fmt"

	"github.com/DmitriyVTitov/size"

	"github.com/janelia-flyem/labelset/datatype/common/multiset"
	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

// Outcome is the result of looking up a block in a level's cache.
type Outcome uint8

const (
	// OutcomeNone means no cache was consulted, e.g., for level 0 or out-of-range blocks.
	OutcomeNone Outcome = iota

	// OutcomeHit means a valid cached block was returned.
	OutcomeHit

	// OutcomeMiss means the store has no value for the key.
	OutcomeMiss

	// OutcomeFault means the store failed or held a malformed value.  It is handled as a miss.
	OutcomeFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeHit:
		return "hit"
	case OutcomeMiss:
		return "miss"
	case OutcomeFault:
		return "fault"
	default:
		return fmt.Sprintf("unknown outcome %d", o)
	}
}

// CacheKey returns the key of a block within a level's store.
func CacheKey(t, setup int, min dvid.Point3d) string {
	return fmt.Sprintf("%d_%d_%d_%d_%d", t, setup, min[0], min[1], min[2])
}

type cacheResult struct {
	Outcome Outcome
	Block   *multiset.Block
	Err     error
}

// cacheGet reads a cached block.  Values that don't decode as a block of the given size
// whose voxels each hold the given number of elements are faults.
func cacheGet(ctx context.Context, store storage.Store, blockSize dvid.Point3d, elements int64, key string) cacheResult {
	data, err := store.Get(ctx, key)
	if storage.IsNotFound(err) {
		return cacheResult{Outcome: OutcomeMiss}
	}
	if err != nil {
		return cacheResult{Outcome: OutcomeFault, Err: err}
	}
	block, err := multiset.UnmarshalBlock(blockSize, data)
	if err != nil {
		return cacheResult{Outcome: OutcomeFault, Err: err}
	}
	if err := block.CheckSums(elements); err != nil {
		return cacheResult{Outcome: OutcomeFault, Err: err}
	}
	return cacheResult{Outcome: OutcomeHit, Block: block}
}

// cachePut writes the wire form of a block and returns the number of bytes written.
// Failures are logged and otherwise ignored.
func cachePut(ctx context.Context, store storage.Store, key string, block *multiset.Block) int {
	data, err := block.MarshalBinary()
	if err != nil {
		dvid.Errorf("Unable to serialize block %q for %s: %v\n", key, store, err)
		return 0
	}
	if err := store.Put(ctx, key, data); err != nil {
		dvid.Errorf("Unable to cache block %q in %s: %v\n", key, store, err)
		return 0
	}
	return len(data)
}

// footprint returns the approximate in-memory size of a block.
func footprint(block *multiset.Block) uint64 {
	return uint64(size.Of(block))
}
