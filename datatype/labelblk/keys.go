/*
	This file supports the key space for label chunks.
*/

package labelblk

import (
	"fmt"

	"github.com/janelia-flyem/labelset/dvid"
)

// ChunkKey returns the store key of a label chunk, "x_y_z" in chunk coordinates.
func ChunkKey(c dvid.ChunkPoint3d) string {
	return fmt.Sprintf("%d_%d_%d", c[0], c[1], c[2])
}

// DecodeChunkKey returns the chunk coordinate of a label chunk key.
func DecodeChunkKey(key string) (dvid.ChunkPoint3d, error) {
	pt, err := dvid.StringToPoint3d(key, "_")
	if err != nil {
		return dvid.ChunkPoint3d{}, fmt.Errorf("bad chunk key %q: %v", key, err)
	}
	return dvid.ChunkPoint3d(pt), nil
}
