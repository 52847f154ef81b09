package labelblk

import (
	"context"
	"errors"
	"testing"

	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

// Data from which to construct repeatable 3d volumes where adjacent voxels have different values.
var xdata = []uint64{23, 819229, 757, 100303, 9991}
var ydata = []uint64{66599, 201, 881067, 5488, 0}
var zdata = []uint64{1, 734, 43990122, 42, 319596}

func labelAt(pos dvid.Point3d) uint64 {
	return xdata[pos[0]%int32(len(xdata))] + ydata[pos[1]%int32(len(ydata))] + zdata[pos[2]%int32(len(zdata))]
}

func makeVolume(t *testing.T, min, size dvid.Point3d) *Dense {
	labels := make([]uint64, size.Prod())
	for i := range labels {
		labels[i] = labelAt(dvid.IndexToPoint(i, size, min))
	}
	d, err := NewDense(min, size, labels)
	if err != nil {
		t.Fatalf("can't make dense volume: %v", err)
	}
	return d
}

func checkRead(t *testing.T, v Volume, size, min dvid.Point3d) {
	labels, err := v.Read(context.Background(), size, min)
	if err != nil {
		t.Fatalf("read of %s at %s: %v", size, min, err)
	}
	bmin, bmax := v.Bounds()
	for i, label := range labels {
		pos := dvid.IndexToPoint(i, size, min)
		var expected uint64
		if pos.Inside(bmin, bmax) {
			expected = labelAt(pos)
		}
		if label != expected {
			t.Fatalf("voxel %s: expected label %d, got %d", pos, expected, label)
		}
	}
}

func TestDense(t *testing.T) {
	d := makeVolume(t, dvid.Point3d{0, 0, 0}, dvid.Point3d{20, 15, 10})
	checkRead(t, d, dvid.Point3d{20, 15, 10}, dvid.Point3d{0, 0, 0})
	checkRead(t, d, dvid.Point3d{8, 8, 8}, dvid.Point3d{16, 12, 6})
	checkRead(t, d, dvid.Point3d{4, 4, 4}, dvid.Point3d{-2, -2, -2})
	checkRead(t, d, dvid.Point3d{4, 4, 4}, dvid.Point3d{100, 0, 0})

	if _, err := NewDense(dvid.Point3d{}, dvid.Point3d{2, 2, 2}, make([]uint64, 7)); err == nil {
		t.Errorf("expected error for wrong number of labels")
	}
}

func TestChunkKey(t *testing.T) {
	for _, c := range []dvid.ChunkPoint3d{{0, 0, 0}, {1, -2, 3}, {1000, 20, -7}} {
		key := ChunkKey(c)
		got, err := DecodeChunkKey(key)
		if err != nil {
			t.Fatalf("decoding %q: %v", key, err)
		}
		if got != c {
			t.Errorf("expected chunk %s from key %q, got %s", c, key, got)
		}
	}
	if _, err := DecodeChunkKey("1_2"); err == nil {
		t.Errorf("expected error for bad chunk key")
	}
}

func TestChunked(t *testing.T) {
	ctx := context.Background()
	dense := makeVolume(t, dvid.Point3d{0, 0, 0}, dvid.Point3d{40, 30, 20})
	store := storage.NewMemoryStore("chunks")
	chunked, err := NewChunked(store, dvid.Point3d{16, 16, 16}, dvid.Point3d{0, 0, 0}, dvid.Point3d{39, 29, 19}, dvid.Snappy)
	if err != nil {
		t.Fatal(err)
	}

	labels, err := chunked.Read(ctx, dvid.Point3d{8, 8, 8}, dvid.Point3d{0, 0, 0})
	if err != nil {
		t.Fatalf("read of empty chunked volume: %v", err)
	}
	for i, label := range labels {
		if label != 0 {
			t.Fatalf("expected background from missing chunk at index %d, got %d", i, label)
		}
	}

	written, err := chunked.Ingest(ctx, dense)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if len(written) != 3*2*2 {
		t.Errorf("expected 12 chunks written, got %d", len(written))
	}
	if store.Len() != len(written) {
		t.Errorf("expected %d keys in store, got %d", len(written), store.Len())
	}
	checkRead(t, chunked, dvid.Point3d{40, 30, 20}, dvid.Point3d{0, 0, 0})
	checkRead(t, chunked, dvid.Point3d{10, 10, 10}, dvid.Point3d{12, 12, 12})
	checkRead(t, chunked, dvid.Point3d{10, 10, 10}, dvid.Point3d{35, 25, 15})
}

func TestChunkedCorrupt(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore("corrupt")
	chunked, err := NewChunked(store, dvid.Point3d{4, 4, 4}, dvid.Point3d{0, 0, 0}, dvid.Point3d{7, 7, 7}, dvid.Uncompressed)
	if err != nil {
		t.Fatal(err)
	}
	if err := chunked.WriteChunk(ctx, dvid.ChunkPoint3d{0, 0, 0}, make([]uint64, 3)); err == nil {
		t.Errorf("expected error writing short chunk")
	}
	if err := chunked.WriteChunk(ctx, dvid.ChunkPoint3d{0, 0, 0}, make([]uint64, 64)); err != nil {
		t.Fatal(err)
	}
	s, _ := store.Get(ctx, ChunkKey(dvid.ChunkPoint3d{0, 0, 0}))
	s[len(s)-1] ^= 0x01
	if err := store.Put(ctx, ChunkKey(dvid.ChunkPoint3d{0, 0, 0}), s); err != nil {
		t.Fatal(err)
	}
	_, err = chunked.Read(ctx, dvid.Point3d{4, 4, 4}, dvid.Point3d{0, 0, 0})
	if !errors.Is(err, dvid.ErrBadChecksum) {
		t.Errorf("expected checksum error reading corrupt chunk, got %v", err)
	}
}
