package labelblk

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

// ngScale is one scale of a neuroglancer precomputed volume's info file.
type ngScale struct {
	ChunkSizes  []dvid.Point3d  `json:"chunk_sizes"`
	Encoding    string          `json:"encoding"`
	Key         string          `json:"key"`
	Resolution  [3]float64      `json:"resolution"`
	Sharding    json.RawMessage `json:"sharding"`
	Size        dvid.Point3d    `json:"size"`
	VoxelOffset dvid.Point3d    `json:"voxel_offset"`
}

// ngVolume is the info file of a neuroglancer precomputed volume.
type ngVolume struct {
	StoreType   string    `json:"@type"`     // must be "neuroglancer_multiscale_volume"
	VolumeType  string    `json:"type"`      // "image" or "segmentation"
	DataType    string    `json:"data_type"` // "uint8", ... "float32"
	NumChannels int       `json:"num_channels"`
	Scales      []ngScale `json:"scales"`
}

// Precomputed is a Volume over one scale of an unsharded neuroglancer precomputed
// segmentation of uint64 labels with raw or gzip encoding.  Chunk files are read from a
// store where keys are object names relative to the volume's info file.  A missing chunk is
// all background.
type Precomputed struct {
	store     storage.Store
	scale     ngScale
	chunkSize dvid.Point3d
	min, max  dvid.Point3d
}

// NewPrecomputed reads the info file of a precomputed volume in the store and returns the
// given scale as a Volume.
func NewPrecomputed(ctx context.Context, store storage.Store, scaleLevel int) (*Precomputed, error) {
	data, err := store.Get(ctx, "info")
	if err != nil {
		return nil, fmt.Errorf("reading precomputed info from %s: %w", store, err)
	}
	var vol ngVolume
	if err := json.Unmarshal(data, &vol); err != nil {
		return nil, fmt.Errorf("bad precomputed info in %s: %v", store, err)
	}
	if vol.StoreType != "" && vol.StoreType != "neuroglancer_multiscale_volume" {
		return nil, fmt.Errorf("precomputed volume type %q != neuroglancer_multiscale_volume", vol.StoreType)
	}
	if vol.VolumeType != "segmentation" {
		return nil, fmt.Errorf("precomputed volume has type %q, need segmentation", vol.VolumeType)
	}
	if vol.DataType != "uint64" || vol.NumChannels > 1 {
		return nil, fmt.Errorf("precomputed volume has %d channels of %s, need one channel of uint64",
			vol.NumChannels, vol.DataType)
	}
	if scaleLevel < 0 || scaleLevel >= len(vol.Scales) {
		return nil, fmt.Errorf("precomputed volume has %d scales, no scale %d", len(vol.Scales), scaleLevel)
	}
	scale := vol.Scales[scaleLevel]
	if len(scale.Sharding) != 0 && string(scale.Sharding) != "null" {
		return nil, fmt.Errorf("scale %d is sharded, only unsharded precomputed volumes are supported", scaleLevel)
	}
	if scale.Encoding != "raw" && scale.Encoding != "gzip" {
		return nil, fmt.Errorf("scale %d has unsupported encoding %q", scaleLevel, scale.Encoding)
	}
	if len(scale.ChunkSizes) == 0 || !scale.ChunkSizes[0].Positive() {
		return nil, fmt.Errorf("scale %d has no valid chunk size", scaleLevel)
	}
	if !scale.Size.Positive() {
		return nil, fmt.Errorf("scale %d has bad size %s", scaleLevel, scale.Size)
	}
	p := &Precomputed{
		store:     store,
		scale:     scale,
		chunkSize: scale.ChunkSizes[0],
		min:       scale.VoxelOffset,
		max:       scale.VoxelOffset.Add(scale.Size).Sub(dvid.Point3d{1, 1, 1}),
	}
	dvid.Infof("Loaded precomputed segmentation scale %q with %s chunks, %s to %s\n",
		scale.Key, p.chunkSize, p.min, p.max)
	return p, nil
}

func (p *Precomputed) String() string {
	return fmt.Sprintf("precomputed labels %q %s-%s in %s", p.scale.Key, p.min, p.max, p.store)
}

// Bounds returns the inclusive voxel extents of the scale.
func (p *Precomputed) Bounds() (min, max dvid.Point3d) {
	return p.min, p.max
}

// chunkBox returns the voxel box of a chunk, which is clipped at the upper bounds.  Chunks
// are aligned to the voxel offset.
func (p *Precomputed) chunkBox(chunk dvid.ChunkPoint3d) (min, max dvid.Point3d) {
	min = p.min.Add(chunk.MinPoint(p.chunkSize))
	max = min.Add(p.chunkSize).Sub(dvid.Point3d{1, 1, 1}).Min(p.max)
	return
}

// ChunkKey returns the object name of a chunk, e.g., "8_8_8/64-128_0-64_0-32".
func (p *Precomputed) ChunkKey(chunk dvid.ChunkPoint3d) string {
	min, max := p.chunkBox(chunk)
	return fmt.Sprintf("%s/%d-%d_%d-%d_%d-%d", p.scale.Key,
		min[0], max[0]+1, min[1], max[1]+1, min[2], max[2]+1)
}

// ReadChunk returns the labels of a chunk in raster order over its clipped box, or nil if
// the chunk file doesn't exist.
func (p *Precomputed) ReadChunk(ctx context.Context, chunk dvid.ChunkPoint3d) ([]uint64, error) {
	key := p.ChunkKey(chunk)
	data, err := p.store.Get(ctx, key)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading precomputed chunk %q: %w", key, err)
	}
	if p.scale.Encoding == "gzip" {
		if data, err = gzipUncompress(data); err != nil {
			return nil, fmt.Errorf("precomputed chunk %q: %v", key, err)
		}
	}
	min, max := p.chunkBox(chunk)
	numVoxels := int(max.Sub(min).Add(dvid.Point3d{1, 1, 1}).Prod())
	if len(data) != numVoxels*8 {
		return nil, fmt.Errorf("precomputed chunk %q has %d bytes, expected %d", key, len(data), numVoxels*8)
	}
	labels := make([]uint64, numVoxels)
	for i := range labels {
		labels[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return labels, nil
}

// Read returns the labels of a box, reading every chunk that intersects it.
func (p *Precomputed) Read(ctx context.Context, size, min dvid.Point3d) ([]uint64, error) {
	if !size.Positive() {
		return nil, fmt.Errorf("bad read size %s", size)
	}
	out := make([]uint64, size.Prod())
	lo := min.Max(p.min)
	hi := min.Add(size).Sub(dvid.Point3d{1, 1, 1}).Min(p.max)
	if lo[0] > hi[0] || lo[1] > hi[1] || lo[2] > hi[2] {
		return out, nil
	}
	begChunk, endChunk := lo.Sub(p.min).Chunk(p.chunkSize), hi.Sub(p.min).Chunk(p.chunkSize)
	for cz := begChunk[2]; cz <= endChunk[2]; cz++ {
		for cy := begChunk[1]; cy <= endChunk[1]; cy++ {
			for cx := begChunk[0]; cx <= endChunk[0]; cx++ {
				chunk := dvid.ChunkPoint3d{cx, cy, cz}
				labels, err := p.ReadChunk(ctx, chunk)
				if err != nil {
					return nil, err
				}
				if labels == nil {
					continue
				}
				cmin, cmax := p.chunkBox(chunk)
				csize := cmax.Sub(cmin).Add(dvid.Point3d{1, 1, 1})
				copyBox(out, size, min, cmin, cmax, func(pos dvid.Point3d) uint64 {
					rel := pos.Sub(cmin)
					return labels[int(rel[0])+int(csize[0])*(int(rel[1])+int(csize[1])*int(rel[2]))]
				})
			}
		}
	}
	return out, nil
}

func gzipUncompress(in []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, fmt.Errorf("can't uncompress gzip data: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("can't read gzip data: %v", err)
	}
	return out, nil
}
