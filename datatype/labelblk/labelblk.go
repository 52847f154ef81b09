/*
Package labelblk provides the raw uint64 label volumes from which level 0 of a
label multiset pyramid is loaded: Dense, an in-memory array; Chunked, a volume of
fixed-size label blocks held in a storage.Store; and Precomputed, a neuroglancer
precomputed segmentation read from a blob store.
*/
package labelblk

import (
	"context"
	"fmt"

	"github.com/janelia-flyem/labelset/dvid"
)

// Volume is a source of raw labels at full resolution.
type Volume interface {
	// Bounds returns the inclusive voxel extents of the volume.
	Bounds() (min, max dvid.Point3d)

	// Read returns the labels of a box of the given size starting at min in raster order,
	// x fastest.  Voxels outside the bounds are background.
	Read(ctx context.Context, size, min dvid.Point3d) ([]uint64, error)
}

// Dense is an in-memory Volume.
type Dense struct {
	Min    dvid.Point3d
	Size   dvid.Point3d
	Labels []uint64
}

// NewDense returns a dense volume of the given size at min.
func NewDense(min, size dvid.Point3d, labels []uint64) (*Dense, error) {
	if !size.Positive() {
		return nil, fmt.Errorf("bad dense volume size %s", size)
	}
	if int64(len(labels)) != size.Prod() {
		return nil, fmt.Errorf("dense volume of size %s needs %d labels, got %d", size, size.Prod(), len(labels))
	}
	return &Dense{Min: min, Size: size, Labels: labels}, nil
}

func (d *Dense) Bounds() (min, max dvid.Point3d) {
	return d.Min, d.Min.Add(d.Size).Sub(dvid.Point3d{1, 1, 1})
}

func (d *Dense) Read(ctx context.Context, size, min dvid.Point3d) ([]uint64, error) {
	if !size.Positive() {
		return nil, fmt.Errorf("bad read size %s", size)
	}
	out := make([]uint64, size.Prod())
	bmin, bmax := d.Bounds()
	copyBox(out, size, min, bmin, bmax, func(pos dvid.Point3d) uint64 {
		rel := pos.Sub(d.Min)
		return d.Labels[int(rel[0])+int(d.Size[0])*(int(rel[1])+int(d.Size[1])*int(rel[2]))]
	})
	return out, nil
}

// copyBox sets out[i] = get(pos) for every position of the requested box that lies within
// [bmin, bmax].  Runs along x are contiguous in out.
func copyBox(out []uint64, size, min, bmin, bmax dvid.Point3d, get func(dvid.Point3d) uint64) {
	lo := min.Max(bmin)
	hi := min.Add(size).Sub(dvid.Point3d{1, 1, 1}).Min(bmax)
	if lo[0] > hi[0] || lo[1] > hi[1] || lo[2] > hi[2] {
		return
	}
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			i := int(lo[0]-min[0]) + int(size[0])*(int(y-min[1])+int(size[1])*int(z-min[2]))
			for x := lo[0]; x <= hi[0]; x++ {
				out[i] = get(dvid.Point3d{x, y, z})
				i++
			}
		}
	}
}
