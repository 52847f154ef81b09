package labelblk

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

// Chunked is a Volume of fixed-size label chunks held in a store.  Each chunk value is a
// serialization envelope of little-endian uint64 labels in raster order.  A missing chunk
// is all background.
type Chunked struct {
	store     storage.Store
	chunkSize dvid.Point3d
	min, max  dvid.Point3d
	compress  dvid.Compression
}

// NewChunked returns a chunked volume with inclusive bounds [min, max].
func NewChunked(store storage.Store, chunkSize, min, max dvid.Point3d, compress dvid.Compression) (*Chunked, error) {
	if !chunkSize.Positive() {
		return nil, fmt.Errorf("bad chunk size %s", chunkSize)
	}
	if !max.Sub(min).Add(dvid.Point3d{1, 1, 1}).Positive() {
		return nil, fmt.Errorf("bad volume bounds %s to %s", min, max)
	}
	return &Chunked{
		store:     store,
		chunkSize: chunkSize,
		min:       min,
		max:       max,
		compress:  compress,
	}, nil
}

func (c *Chunked) String() string {
	return fmt.Sprintf("chunked labels %s-%s, chunks %s in %s", c.min, c.max, c.chunkSize, c.store)
}

func (c *Chunked) Bounds() (min, max dvid.Point3d) {
	return c.min, c.max
}

// ChunkSize returns the voxel dimensions of each chunk.
func (c *Chunked) ChunkSize() dvid.Point3d {
	return c.chunkSize
}

// Read returns the labels for a box, fetching every chunk the box intersects.
func (c *Chunked) Read(ctx context.Context, size, min dvid.Point3d) ([]uint64, error) {
	if !size.Positive() {
		return nil, fmt.Errorf("bad read size %s", size)
	}
	out := make([]uint64, size.Prod())
	lo := min.Max(c.min)
	hi := min.Add(size).Sub(dvid.Point3d{1, 1, 1}).Min(c.max)
	if lo[0] > hi[0] || lo[1] > hi[1] || lo[2] > hi[2] {
		return out, nil
	}
	begChunk, endChunk := lo.Chunk(c.chunkSize), hi.Chunk(c.chunkSize)
	for cz := begChunk[2]; cz <= endChunk[2]; cz++ {
		for cy := begChunk[1]; cy <= endChunk[1]; cy++ {
			for cx := begChunk[0]; cx <= endChunk[0]; cx++ {
				chunk := dvid.ChunkPoint3d{cx, cy, cz}
				labels, err := c.ReadChunk(ctx, chunk)
				if err != nil {
					return nil, err
				}
				if labels == nil {
					continue
				}
				cmin := chunk.MinPoint(c.chunkSize)
				cmax := cmin.Add(c.chunkSize).Sub(dvid.Point3d{1, 1, 1})
				copyBox(out, size, min, cmin.Max(lo), cmax.Min(hi), func(pos dvid.Point3d) uint64 {
					rel := pos.Sub(cmin)
					return labels[int(rel[0])+int(c.chunkSize[0])*(int(rel[1])+int(c.chunkSize[1])*int(rel[2]))]
				})
			}
		}
	}
	return out, nil
}

// ReadChunk returns the labels of a chunk or nil if the chunk has not been written.
func (c *Chunked) ReadChunk(ctx context.Context, chunk dvid.ChunkPoint3d) ([]uint64, error) {
	key := ChunkKey(chunk)
	s, err := c.store.Get(ctx, key)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading label chunk %s: %w", chunk, err)
	}
	data, _, err := dvid.DeserializeData(s, true)
	if err != nil {
		return nil, fmt.Errorf("deserializing label chunk %s: %w", chunk, err)
	}
	numVoxels := int(c.chunkSize.Prod())
	if len(data) != numVoxels*8 {
		return nil, fmt.Errorf("label chunk %s has %d bytes, expected %d", chunk, len(data), numVoxels*8)
	}
	labels := make([]uint64, numVoxels)
	for i := range labels {
		labels[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return labels, nil
}

// WriteChunk stores the labels of a chunk, which must hold exactly one chunk of voxels.
func (c *Chunked) WriteChunk(ctx context.Context, chunk dvid.ChunkPoint3d, labels []uint64) error {
	if int64(len(labels)) != c.chunkSize.Prod() {
		return fmt.Errorf("chunk %s needs %d labels, got %d", chunk, c.chunkSize.Prod(), len(labels))
	}
	data := make([]byte, len(labels)*8)
	for i, label := range labels {
		binary.LittleEndian.PutUint64(data[i*8:], label)
	}
	s, err := dvid.SerializeData(data, c.compress, dvid.CRC32)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, ChunkKey(chunk), s)
}

// Ingest copies every chunk of the given volume that lies within this volume's bounds and
// returns the coordinates of the chunks written.
func (c *Chunked) Ingest(ctx context.Context, src Volume) ([]dvid.ChunkPoint3d, error) {
	smin, smax := src.Bounds()
	lo, hi := smin.Max(c.min), smax.Min(c.max)
	if lo[0] > hi[0] || lo[1] > hi[1] || lo[2] > hi[2] {
		return nil, nil
	}
	var written []dvid.ChunkPoint3d
	begChunk, endChunk := lo.Chunk(c.chunkSize), hi.Chunk(c.chunkSize)
	for cz := begChunk[2]; cz <= endChunk[2]; cz++ {
		for cy := begChunk[1]; cy <= endChunk[1]; cy++ {
			for cx := begChunk[0]; cx <= endChunk[0]; cx++ {
				chunk := dvid.ChunkPoint3d{cx, cy, cz}
				labels, err := src.Read(ctx, c.chunkSize, chunk.MinPoint(c.chunkSize))
				if err != nil {
					return written, err
				}
				if err := c.WriteChunk(ctx, chunk, labels); err != nil {
					return written, err
				}
				written = append(written, chunk)
			}
		}
	}
	dvid.Infof("Ingested %d label chunks into %s\n", len(written), c)
	return written, nil
}
