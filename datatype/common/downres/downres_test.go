package downres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Shopify/sarama/mocks"

	"github.com/janelia-flyem/labelset/datatype/common/multiset"
	"github.com/janelia-flyem/labelset/datatype/labelblk"
	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

// testStore counts operations on a memory store and can fail puts.
type testStore struct {
	*storage.MemoryStore

	mu      sync.Mutex
	gets    int
	puts    int
	failPut bool
}

func newTestStore(name string) *testStore {
	return &testStore{MemoryStore: storage.NewMemoryStore(name)}
}

func (s *testStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.MemoryStore.Get(ctx, key)
}

func (s *testStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.puts++
	fail := s.failPut
	s.mu.Unlock()
	if fail {
		return errors.New("put refused")
	}
	return s.MemoryStore.Put(ctx, key, value)
}

func (s *testStore) counts() (gets, puts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.puts
}

type failingVolume struct{}

func (failingVolume) Bounds() (min, max dvid.Point3d) {
	return dvid.Point3d{0, 0, 0}, dvid.Point3d{31, 31, 31}
}

func (failingVolume) Read(ctx context.Context, size, min dvid.Point3d) ([]uint64, error) {
	return nil, errors.New("source unavailable")
}

// cancellingVolume reads labels like its dense volume but fails once the context is done.
// If cancel is set, it is called once more than cancelAfter reads have been made.
type cancellingVolume struct {
	*labelblk.Dense

	mu          sync.Mutex
	reads       int
	cancelAfter int
	cancel      context.CancelFunc
}

func (v *cancellingVolume) Read(ctx context.Context, size, min dvid.Point3d) ([]uint64, error) {
	v.mu.Lock()
	v.reads++
	if v.cancel != nil && v.reads > v.cancelAfter {
		v.cancel()
	}
	v.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.Dense.Read(ctx, size, min)
}

// lockedVolume allows labels of a dense volume to change while it is read.
type lockedVolume struct {
	mu sync.RWMutex
	*labelblk.Dense
}

func (v *lockedVolume) Read(ctx context.Context, size, min dvid.Point3d) ([]uint64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.Dense.Read(ctx, size, min)
}

func (v *lockedVolume) setBox(min, max dvid.Point3d, label uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.Labels {
		if dvid.IndexToPoint(i, v.Size, v.Min).Inside(min, max) {
			v.Labels[i] = label
		}
	}
}

var (
	testVolumeSize = dvid.Point3d{40, 40, 20}
	testBlockSize  = dvid.Point3d{16, 16, 16}
	testFactors    = []dvid.Point3d{{2, 2, 2}, {2, 2, 1}}
)

func testLabel(pos dvid.Point3d) uint64 {
	return uint64(pos[0]/5) + 10*uint64(pos[1]/7) + 100*uint64(pos[2]/3)
}

func makeTestVolume(t *testing.T) *labelblk.Dense {
	labels := make([]uint64, testVolumeSize.Prod())
	for i := range labels {
		labels[i] = testLabel(dvid.IndexToPoint(i, testVolumeSize, dvid.Point3d{}))
	}
	d, err := labelblk.NewDense(dvid.Point3d{}, testVolumeSize, labels)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func makeTestLoader(t *testing.T, src labelblk.Volume, activity *storage.ActivityLog) (*Loader, []*testStore) {
	tstores := []*testStore{newTestStore("level1"), newTestStore("level2")}
	stores := []storage.Store{tstores[0], tstores[1]}
	l, err := NewLoader(src, Config{BlockSize: testBlockSize, Factors: testFactors, Workers: 4}, stores, activity)
	if err != nil {
		t.Fatalf("can't create loader: %v", err)
	}
	return l, tstores
}

func TestCacheKey(t *testing.T) {
	if key := CacheKey(3, 1, dvid.Point3d{64, -128, 0}); key != "3_1_64_-128_0" {
		t.Errorf("unexpected cache key %q", key)
	}
}

func TestExtents(t *testing.T) {
	l, _ := makeTestLoader(t, makeTestVolume(t), nil)
	expected := []dvid.Point3d{{39, 39, 19}, {19, 19, 9}, {9, 9, 9}}
	for level, max := range expected {
		emin, emax := l.Extents(level)
		if emin != (dvid.Point3d{}) || emax != max {
			t.Errorf("level %d: expected extents (0,0,0)-%s, got %s-%s", level, max, emin, emax)
		}
	}
	if n := l.ElementsPerVoxel(2); n != 32 {
		t.Errorf("expected 32 elements per level 2 voxel, got %d", n)
	}
	if _, err := l.LoadBlock(context.Background(), 0, 0, 3, testBlockSize, dvid.Point3d{}); err == nil {
		t.Errorf("expected error loading nonexistent level")
	}
}

func TestNewLoaderErrors(t *testing.T) {
	src := makeTestVolume(t)
	if _, err := NewLoader(src, Config{Factors: testFactors}, []storage.Store{storage.NewMemoryStore("one")}, nil); err == nil {
		t.Errorf("expected error with fewer stores than levels")
	}
	_, err := NewLoader(src, Config{Factors: []dvid.Point3d{{2, 0, 2}}}, []storage.Store{storage.NewMemoryStore("one")}, nil)
	if !errors.Is(err, multiset.ErrBadFactors) {
		t.Errorf("expected bad factors error, got %v", err)
	}
}

func TestLevel0(t *testing.T) {
	src := makeTestVolume(t)
	l, _ := makeTestLoader(t, src, nil)
	min := dvid.Point3d{16, 16, 0}
	block, err := l.LoadBlock(context.Background(), 0, 0, 0, testBlockSize, min)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < block.NumVoxels(); i++ {
		pos := dvid.IndexToPoint(i, testBlockSize, min)
		var expected uint64
		if pos.Inside(src.Bounds()) {
			expected = testLabel(pos)
		}
		list := block.At(i)
		if list.Len() != 1 || list.At(0) != (multiset.Entry{ID: expected, Count: 1}) {
			t.Fatalf("voxel %s: expected {%d:1}, got %s", pos, expected, list)
		}
	}
}

func TestDegradedRead(t *testing.T) {
	l, stores := makeTestLoader(t, failingVolume{}, nil)
	ctx := context.Background()
	block, err := l.LoadBlock(ctx, 0, 0, 0, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatalf("failed source read should not be an error: %v", err)
	}
	if !block.ContentEqual(multiset.BackgroundBlock(testBlockSize, 1)) {
		t.Errorf("expected background block on failed source read")
	}

	block, err = l.LoadBlock(ctx, 0, 0, 1, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	if !block.ContentEqual(multiset.BackgroundBlock(testBlockSize, 8)) {
		t.Errorf("expected level 1 background block from degraded level 0")
	}
	if _, puts := stores[0].counts(); puts != 1 {
		t.Errorf("expected degraded level 1 block to be cached once, got %d puts", puts)
	}
}

func TestMatchesDirectDownscale(t *testing.T) {
	src := makeTestVolume(t)
	l, _ := makeTestLoader(t, src, nil)
	ctx := context.Background()

	full, err := src.Read(ctx, testVolumeSize, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	level0, err := multiset.FromLabels(testVolumeSize, full)
	if err != nil {
		t.Fatal(err)
	}
	acc := multiset.NewBlockAccessor(level0, dvid.Point3d{})
	for _, min := range []dvid.Point3d{{0, 0, 0}, {16, 0, 0}, {16, 16, 0}} {
		expected, err := multiset.Downscale(acc, testBlockSize, min, testFactors[0], 1)
		if err != nil {
			t.Fatal(err)
		}
		got, err := l.LoadBlock(ctx, 0, 0, 1, testBlockSize, min)
		if err != nil {
			t.Fatal(err)
		}
		if !got.ContentEqual(expected) {
			t.Errorf("level 1 block at %s differs from direct downscale", min)
		}
	}
}

func TestCacheIdempotence(t *testing.T) {
	l, stores := makeTestLoader(t, makeTestVolume(t), nil)
	ctx := context.Background()

	cold, outcome, err := l.load(ctx, 0, 0, 2, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeMiss {
		t.Errorf("expected cold load to miss, got %s", outcome)
	}
	_, puts := stores[1].counts()
	if puts != 1 {
		t.Errorf("expected 1 put to level 2 store, got %d", puts)
	}

	warm, outcome, err := l.load(ctx, 0, 0, 2, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeHit {
		t.Errorf("expected warm load to hit, got %s", outcome)
	}
	if !cold.ContentEqual(warm) {
		t.Fatalf("cold and warm loads differ")
	}
	coldWire, _ := cold.MarshalBinary()
	warmWire, _ := warm.MarshalBinary()
	if string(coldWire) != string(warmWire) {
		t.Errorf("cold and warm wire forms differ")
	}
	if _, puts = stores[1].counts(); puts != 1 {
		t.Errorf("warm load should not write, got %d puts", puts)
	}

	// sum invariant at level 2
	for i := 0; i < warm.NumVoxels(); i++ {
		if sum := warm.At(i).Sum(); sum != int64(l.ElementsPerVoxel(2)) {
			t.Fatalf("voxel %d has sum %d, expected %d", i, sum, l.ElementsPerVoxel(2))
		}
	}
}

func TestFailingPut(t *testing.T) {
	l, stores := makeTestLoader(t, makeTestVolume(t), nil)
	stores[0].failPut = true
	ctx := context.Background()

	first, outcome, err := l.load(ctx, 0, 0, 1, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatalf("failed cache write should not fail the load: %v", err)
	}
	if outcome != OutcomeMiss {
		t.Errorf("expected miss, got %s", outcome)
	}
	second, outcome, err := l.load(ctx, 0, 0, 1, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeMiss {
		t.Errorf("expected second load to miss after failed write, got %s", outcome)
	}
	if !first.ContentEqual(second) {
		t.Errorf("recomputed block differs")
	}
	if _, puts := stores[0].counts(); puts != 2 {
		t.Errorf("expected 2 put attempts, got %d", puts)
	}
}

func TestCacheFault(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputAndSucceed() // cache-fault
	producer.ExpectInputAndSucceed() // block-computed
	activity := storage.NewActivityLogWithProducer(producer, "labelset-test")

	l, stores := makeTestLoader(t, makeTestVolume(t), activity)
	ctx := context.Background()
	key := CacheKey(0, 0, dvid.Point3d{})
	if err := stores[0].MemoryStore.Put(ctx, key, []byte("not a block")); err != nil {
		t.Fatal(err)
	}
	block, outcome, err := l.load(ctx, 0, 0, 1, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatalf("malformed cached value should be recomputed: %v", err)
	}
	if outcome != OutcomeFault {
		t.Errorf("expected fault outcome, got %s", outcome)
	}
	if err := block.Validate(); err != nil {
		t.Errorf("recomputed block invalid: %v", err)
	}
	if _, outcome, _ = l.load(ctx, 0, 0, 1, testBlockSize, dvid.Point3d{}); outcome != OutcomeHit {
		t.Errorf("expected overwritten cache entry to hit, got %s", outcome)
	}
	if err := l.Close(); err != nil {
		t.Errorf("error closing loader: %v", err)
	}
}

func TestCachedBlockWrongShape(t *testing.T) {
	l, stores := makeTestLoader(t, makeTestVolume(t), nil)
	ctx := context.Background()
	key := CacheKey(0, 0, dvid.Point3d{})

	// a level 0 block decodes but each voxel holds 1 element instead of 8.
	wrongSums, _ := multiset.BackgroundBlock(testBlockSize, 1).MarshalBinary()
	// a block twice as wide leaves zero offset words at the start of the arena.
	wide, _ := multiset.BackgroundBlock(dvid.Point3d{32, 16, 16}, 8).MarshalBinary()

	for name, value := range map[string][]byte{"wrong sums": wrongSums, "wider block": wide} {
		if err := stores[0].MemoryStore.Put(ctx, key, value); err != nil {
			t.Fatal(err)
		}
		block, outcome, err := l.load(ctx, 0, 0, 1, testBlockSize, dvid.Point3d{})
		if err != nil {
			t.Fatalf("%s: bad cached value should be recomputed: %v", name, err)
		}
		if outcome != OutcomeFault {
			t.Errorf("%s: expected fault outcome, got %s", name, outcome)
		}
		if err := block.CheckSums(8); err != nil {
			t.Errorf("%s: recomputed block has bad sums: %v", name, err)
		}
		if _, outcome, _ = l.load(ctx, 0, 0, 1, testBlockSize, dvid.Point3d{}); outcome != OutcomeHit {
			t.Errorf("%s: expected rewritten cache entry to hit, got %s", name, outcome)
		}
	}
}

// checkAgainstGrid verifies each voxel of a block against the grid block holding it.
func checkAgainstGrid(t *testing.T, l *Loader, level int, block *multiset.Block, min dvid.Point3d) {
	ctx := context.Background()
	for i := 0; i < block.NumVoxels(); i++ {
		pos := dvid.IndexToPoint(i, block.Size, min)
		gridMin := pos.Chunk(testBlockSize).MinPoint(testBlockSize)
		grid, err := l.LoadBlock(ctx, 0, 0, level, testBlockSize, gridMin)
		if err != nil {
			t.Fatal(err)
		}
		rel := pos.Sub(gridMin)
		if expected := grid.AtPoint(rel[0], rel[1], rel[2]); !block.At(i).Equal(expected) {
			t.Fatalf("level %d voxel %s: expected %s, got %s", level, pos, expected, block.At(i))
		}
	}
}

func TestOffGridLoads(t *testing.T) {
	l, stores := makeTestLoader(t, makeTestVolume(t), nil)
	ctx := context.Background()

	wide, outcome, err := l.load(ctx, 0, 0, 1, dvid.Point3d{4, 1, 1}, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeNone {
		t.Errorf("expected off-grid load to bypass the cache, got %s", outcome)
	}
	single, err := l.LoadBlock(ctx, 0, 0, 1, dvid.Point3d{1, 1, 1}, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	if !single.At(0).Equal(wide.At(0)) || single.At(0).Sum() != 8 {
		t.Errorf("voxel 0 differs between sizes: %s vs %s", single.At(0), wide.At(0))
	}
	if _, puts := stores[0].counts(); puts != 1 {
		t.Errorf("expected only the grid block to be cached, got %d puts", puts)
	}
	checkAgainstGrid(t, l, 1, wide, dvid.Point3d{})

	// straddles four grid blocks
	min := dvid.Point3d{12, 12, 0}
	block, err := l.LoadBlock(ctx, 0, 0, 1, dvid.Point3d{8, 8, 8}, min)
	if err != nil {
		t.Fatal(err)
	}
	if err := block.Validate(); err != nil {
		t.Fatalf("assembled block invalid: %v", err)
	}
	checkAgainstGrid(t, l, 1, block, min)
	if _, puts := stores[0].counts(); puts != 4 {
		t.Errorf("expected 4 grid blocks cached, got %d puts", puts)
	}

	// grid-sized but unaligned
	min = dvid.Point3d{4, 0, 0}
	block, err = l.LoadBlock(ctx, 0, 0, 2, testBlockSize, min)
	if err != nil {
		t.Fatal(err)
	}
	checkAgainstGrid(t, l, 2, block, min)
	if _, puts := stores[1].counts(); puts != 1 {
		t.Errorf("expected only the level 2 grid block cached, got %d puts", puts)
	}

	if _, err := l.Recompute(ctx, 0, 0, 1, dvid.Point3d{4, 1, 1}, dvid.Point3d{}); err == nil {
		t.Errorf("expected error recomputing an off-grid block")
	}
	if _, err := l.Recompute(ctx, 0, 0, 1, testBlockSize, dvid.Point3d{1, 0, 0}); err == nil {
		t.Errorf("expected error recomputing an unaligned block")
	}
}

func TestCancelledLoad(t *testing.T) {
	src := &cancellingVolume{Dense: makeTestVolume(t)}
	l, stores := makeTestLoader(t, src, nil)
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.LoadBlock(cancelled, 0, 0, 0, testBlockSize, dvid.Point3d{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled level 0 load, got %v", err)
	}
	if _, err := l.LoadBlock(cancelled, 0, 0, 2, testBlockSize, dvid.Point3d{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled level 2 load, got %v", err)
	}
	for i, s := range stores {
		if _, puts := s.counts(); puts != 0 {
			t.Errorf("level %d cached %d blocks from a cancelled load", i+1, puts)
		}
	}

	ref, _ := makeTestLoader(t, makeTestVolume(t), nil)
	expected, err := ref.LoadBlock(context.Background(), 0, 0, 2, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	block, outcome, err := l.load(context.Background(), 0, 0, 2, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeMiss {
		t.Errorf("expected miss after cancelled load, got %s", outcome)
	}
	if !block.ContentEqual(expected) {
		t.Errorf("block loaded after a cancelled load differs from reference")
	}
}

func TestOutOfRange(t *testing.T) {
	l, stores := makeTestLoader(t, makeTestVolume(t), nil)
	ctx := context.Background()
	for _, min := range []dvid.Point3d{{16, 16, 16}, {-16, 0, 0}, {0, 320, 0}} {
		block, err := l.LoadBlock(ctx, 0, 0, 2, testBlockSize, min)
		if err != nil {
			t.Fatal(err)
		}
		if !block.ContentEqual(multiset.BackgroundBlock(testBlockSize, 32)) {
			t.Errorf("expected background block at %s", min)
		}
	}
	for i, s := range stores {
		if gets, puts := s.counts(); gets != 0 || puts != 0 {
			t.Errorf("level %d store touched for out of range blocks: %d gets, %d puts", i+1, gets, puts)
		}
	}
}

func TestConcurrentLoads(t *testing.T) {
	l, _ := makeTestLoader(t, makeTestVolume(t), nil)
	ctx := context.Background()
	const n = 16
	blocks := make([]*multiset.Block, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			blocks[i], errs[i] = l.LoadBlock(ctx, 0, 0, 2, testBlockSize, dvid.Point3d{})
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("load %d: %v", i, errs[i])
		}
		if !blocks[i].ContentEqual(blocks[0]) {
			t.Errorf("load %d differs from load 0", i)
		}
		for j := 0; j < i; j++ {
			if blocks[i] == blocks[j] {
				t.Errorf("loads %d and %d returned the same block", i, j)
			}
		}
	}
}

func TestBuildLevel(t *testing.T) {
	l, _ := makeTestLoader(t, makeTestVolume(t), nil)
	ctx := context.Background()
	if _, err := l.BuildLevel(ctx, 0, 0, 0); err == nil {
		t.Errorf("expected error building level 0")
	}

	stats, err := l.BuildLevel(ctx, 0, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Blocks != 2*2*1 || stats.Computed != 4 || stats.Hits != 0 {
		t.Errorf("unexpected stats for cold build: %s", stats)
	}
	stats, err = l.BuildLevel(ctx, 0, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Hits != 4 || stats.Computed != 0 {
		t.Errorf("unexpected stats for warm build: %s", stats)
	}
	stats, err = l.BuildLevel(ctx, 0, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Blocks != 1 || stats.Computed != 1 {
		t.Errorf("unexpected stats for level 2 build: %s", stats)
	}
}

func TestBuildLevelCancelled(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	l, stores := makeTestLoader(t, &cancellingVolume{Dense: makeTestVolume(t)}, nil)
	if _, err := l.BuildLevel(cancelled, 0, 0, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled build, got %v", err)
	}
	if _, puts := stores[0].counts(); puts != 0 {
		t.Errorf("cancelled build cached %d blocks", puts)
	}

	// cancel partway through a build
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancellingVolume{Dense: makeTestVolume(t), cancelAfter: 5, cancel: cancel}
	l, stores = makeTestLoader(t, src, nil)
	if _, err := l.BuildLevel(ctx, 0, 0, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled build, got %v", err)
	}

	ref, _ := makeTestLoader(t, makeTestVolume(t), nil)
	for level := 1; level < l.NumLevels(); level++ {
		for _, min := range l.GridBlocks(level) {
			res := cacheGet(context.Background(), stores[level-1], testBlockSize,
				int64(l.ElementsPerVoxel(level)), CacheKey(0, 0, min))
			if res.Outcome != OutcomeHit {
				continue
			}
			expected, err := ref.LoadBlock(context.Background(), 0, 0, level, testBlockSize, min)
			if err != nil {
				t.Fatal(err)
			}
			if !res.Block.ContentEqual(expected) {
				t.Errorf("level %d block at %s cached from a cancelled build differs from reference", level, min)
			}
		}
	}
}

func TestMutation(t *testing.T) {
	src := makeTestVolume(t)
	l, _ := makeTestLoader(t, src, nil)
	ctx := context.Background()

	before, err := l.LoadBlock(ctx, 0, 0, 2, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	if before.At(0).Count(999) != 0 {
		t.Fatalf("label 999 should not exist before mutation")
	}

	for i := range src.Labels {
		if pos := dvid.IndexToPoint(i, testVolumeSize, dvid.Point3d{}); pos.Inside(dvid.Point3d{}, dvid.Point3d{3, 3, 3}) {
			src.Labels[i] = 999
		}
	}
	m := l.NewMutation(0, 0, 17)
	if err := m.BoxMutated(dvid.Point3d{}, dvid.Point3d{4, 4, 4}); err != nil {
		t.Fatal(err)
	}
	m.Done(ctx)
	if err := m.Wait(); err != nil {
		t.Fatalf("mutation failed: %v", err)
	}
	if err := m.BoxMutated(dvid.Point3d{}, dvid.Point3d{1, 1, 1}); err == nil {
		t.Errorf("expected error mutating closed mutation")
	}
	m.Done(ctx)
	if err := m.Wait(); err != nil {
		t.Errorf("second Done changed the result: %v", err)
	}

	level1, err := l.LoadBlock(ctx, 0, 0, 1, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	if c := level1.At(0).Count(999); c != 8 {
		t.Errorf("expected level 1 voxel 0 to have 8 of label 999, got %s", level1.At(0))
	}
	after, err := l.LoadBlock(ctx, 0, 0, 2, testBlockSize, dvid.Point3d{})
	if err != nil {
		t.Fatal(err)
	}
	if c := after.At(0).Count(999); c != 32 {
		t.Errorf("expected level 2 voxel 0 to have 32 of label 999, got %s", after.At(0))
	}
}

func TestMutationDuringLoads(t *testing.T) {
	src := &lockedVolume{Dense: makeTestVolume(t)}
	l, _ := makeTestLoader(t, src, nil)
	ctx := context.Background()

	stop := make(chan struct{})
	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(level int) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := l.LoadBlock(ctx, 0, 0, level, testBlockSize, dvid.Point3d{}); err != nil {
					errs <- err
					return
				}
			}
		}(1 + i%2)
	}

	src.setBox(dvid.Point3d{}, dvid.Point3d{3, 3, 3}, 999)
	m := l.NewMutation(0, 0, 18)
	if err := m.BoxMutated(dvid.Point3d{}, dvid.Point3d{4, 4, 4}); err != nil {
		t.Fatal(err)
	}
	m.Done(ctx)
	mutErr := m.Wait()
	close(stop)
	wg.Wait()
	close(errs)
	if mutErr != nil {
		t.Fatalf("mutation failed: %v", mutErr)
	}
	for err := range errs {
		t.Errorf("concurrent load failed: %v", err)
	}

	for level, expected := range map[int]int32{1: 8, 2: 32} {
		block, outcome, err := l.load(ctx, 0, 0, level, testBlockSize, dvid.Point3d{})
		if err != nil {
			t.Fatal(err)
		}
		if outcome != OutcomeHit {
			t.Errorf("level %d: expected cached block, got %s", level, outcome)
		}
		if c := block.At(0).Count(999); c != expected {
			t.Errorf("level %d: stale cached block after mutation, voxel 0 is %s", level, block.At(0))
		}
	}
}

func TestCheckStores(t *testing.T) {
	l, stores := makeTestLoader(t, makeTestVolume(t), nil)
	ctx := context.Background()
	if err := l.CheckStores(ctx); err != nil {
		t.Fatalf("fresh stores should pass: %v", err)
	}
	if err := l.CheckStores(ctx); err != nil {
		t.Fatalf("recorded metadata should pass: %v", err)
	}

	other, err := NewLoader(makeTestVolume(t), Config{BlockSize: dvid.Point3d{32, 32, 32}, Factors: testFactors},
		[]storage.Store{stores[0], stores[1]}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.CheckStores(ctx); err == nil {
		t.Errorf("expected error for stores written with another block size")
	}
}
