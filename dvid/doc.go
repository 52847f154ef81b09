/*
Package dvid provides the shared plumbing used across labelset packages: leveled logging,
keyword configurations, 3d geometry, and the serialization envelope (compression + checksum)
applied to stored values.
*/
package dvid
