package dvid

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Point3d is an ordered list of three 32-bit signed integers in (x, y, z) order.
type Point3d [3]int32

// ChunkPoint3d is a 3d coordinate in chunk (block) space.
type ChunkPoint3d [3]int32

// Bytes returns a byte representation of the Point3d in little endian format.
func (p Point3d) Bytes() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p[0]))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p[1]))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p[2]))
	return buf
}

// Add returns the addition of two points.
func (p Point3d) Add(p2 Point3d) Point3d {
	return Point3d{p[0] + p2[0], p[1] + p2[1], p[2] + p2[2]}
}

// Sub returns the subtraction of the passed point from the receiver.
func (p Point3d) Sub(p2 Point3d) Point3d {
	return Point3d{p[0] - p2[0], p[1] - p2[1], p[2] - p2[2]}
}

// Mult returns the multiplication of the receiver by the passed point.
func (p Point3d) Mult(p2 Point3d) Point3d {
	return Point3d{p[0] * p2[0], p[1] * p2[1], p[2] * p2[2]}
}

// CeilDiv returns the per-dimension division of non-negative receiver components by the passed
// point, rounding up.
func (p Point3d) CeilDiv(p2 Point3d) Point3d {
	return Point3d{
		(p[0] + p2[0] - 1) / p2[0],
		(p[1] + p2[1] - 1) / p2[1],
		(p[2] + p2[2] - 1) / p2[2],
	}
}

// Min returns a Point3d where each of its elements are the minimum of two points' elements.
func (p Point3d) Min(p2 Point3d) Point3d {
	result := p
	for i := 0; i < 3; i++ {
		if p2[i] < result[i] {
			result[i] = p2[i]
		}
	}
	return result
}

// Max returns a Point3d where each of its elements are the maximum of two points' elements.
func (p Point3d) Max(p2 Point3d) Point3d {
	result := p
	for i := 0; i < 3; i++ {
		if p2[i] > result[i] {
			result[i] = p2[i]
		}
	}
	return result
}

// Prod returns the product of the components, e.g., the number of voxels for a size.
func (p Point3d) Prod() int64 {
	return int64(p[0]) * int64(p[1]) * int64(p[2])
}

// Positive returns true if all components are > 0.
func (p Point3d) Positive() bool {
	return p[0] > 0 && p[1] > 0 && p[2] > 0
}

// Inside returns true if the point is within the closed interval [min, max].
func (p Point3d) Inside(min, max Point3d) bool {
	return p[0] >= min[0] && p[1] >= min[1] && p[2] >= min[2] &&
		p[0] <= max[0] && p[1] <= max[1] && p[2] <= max[2]
}

func (p Point3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p[0], p[1], p[2])
}

// Chunk returns the chunk space coordinate of the chunk containing the point.
func (p Point3d) Chunk(size Point3d) ChunkPoint3d {
	var c ChunkPoint3d
	for i := 0; i < 3; i++ {
		if p[i] < 0 {
			c[i] = (p[i] - size[i] + 1) / size[i]
		} else {
			c[i] = p[i] / size[i]
		}
	}
	return c
}

// MinPoint returns the smallest voxel coordinate of the chunk with the given size.
func (c ChunkPoint3d) MinPoint(size Point3d) Point3d {
	return Point3d{c[0] * size[0], c[1] * size[1], c[2] * size[2]}
}

func (c ChunkPoint3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c[0], c[1], c[2])
}

// StringToPoint3d parses a string of format "%d<sep>%d<sep>%d".
func StringToPoint3d(str, separator string) (Point3d, error) {
	elems := strings.Split(str, separator)
	if len(elems) != 3 {
		return Point3d{}, fmt.Errorf("can't parse %q into 3d point using separator %q", str, separator)
	}
	var p Point3d
	for i, elem := range elems {
		v, err := strconv.ParseInt(strings.TrimSpace(elem), 10, 32)
		if err != nil {
			return Point3d{}, fmt.Errorf("can't parse coordinate %q of %q: %v", elem, str, err)
		}
		p[i] = int32(v)
	}
	return p, nil
}

// IndexToPoint converts a raster index (x fastest) within a box of the given size into a
// position offset by min.
func IndexToPoint(i int, size, min Point3d) Point3d {
	nxy := int(size[0]) * int(size[1])
	z := i / nxy
	rem := i - z*nxy
	y := rem / int(size[0])
	x := rem - y*int(size[0])
	return Point3d{int32(x) + min[0], int32(y) + min[1], int32(z) + min[2]}
}
