/*
Package multiset implements label multiset voxels: each voxel holds a sorted list of
(label, count) entries describing which labels, and how many elementary voxels of each,
fall within it.  Lists are stored once per distinct content in an append-only arena and
voxels refer to them by offset, so flat regions share a single list.

Entry list layout (little-endian):

	uint32  number of entries N
	N times:
		uint64  label id (strictly ascending)
		uint32  count (>= 1)

A block serializes as N_voxels little-endian int32 offsets followed by the arena bytes
reachable from those offsets.
*/
package multiset
