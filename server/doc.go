/*
Package server configures and runs a labelset server: a set of named stores, a chunked or
neuroglancer precomputed raw label source, and a pyramid of label multiset levels cached
in per-level stores.

The HTTP API:

	GET  /api/server/info
		Returns JSON describing the server, its pyramid and available storage engines.

	GET  /api/block/<level>/<t>/<setup>/<x_y_z>[?size=<nx_ny_nz>]
		Returns the serialized label multiset block with voxel min (x,y,z) at the level.
		The size defaults to the pyramid block size.

	GET  /api/block/<level>/<t>/<setup>/<x_y_z>/labels[?size=<nx_ny_nz>]
		Returns JSON with the sorted labels of the block and the voxel count of each.

	POST /api/build/<level>/<t>/<setup>
		Computes and caches every grid block of a level, returning JSON build statistics.

	POST /api/mutation/<t>/<setup>
		Recomputes the cached blocks covering mutated boxes of the raw source at every
		level.  The body is JSON: {"mutid": 23, "boxes": [{"min": [x,y,z], "size": [nx,ny,nz]}]}

	GET  /api/mutation/<t>/<setup>
		Returns the JSON records of processed mutations if a [mutations] jsonstore is set.

	GET  /api/node/<uuid>/<name>/key/<key>
	POST /api/node/<uuid>/<name>/key/<key>
		Get or put a value in the store exposed under the [keyvalue] name.  The uuid is
		accepted for compatibility with DVID keyvalue clients and is not used.

When an [auth] secret key is configured, every POST requires a JWT bearer token signed
with that key.
*/
package server
