package dvid

import "testing"

func TestPoint3d(t *testing.T) {
	a := Point3d{10, 20, 30}
	b := Point3d{3, 4, 5}
	if got := a.Add(b); got != (Point3d{13, 24, 35}) {
		t.Errorf("bad Add: %s\n", got)
	}
	if got := a.Sub(b); got != (Point3d{7, 16, 25}) {
		t.Errorf("bad Sub: %s\n", got)
	}
	if got := a.Mult(b); got != (Point3d{30, 80, 150}) {
		t.Errorf("bad Mult: %s\n", got)
	}
	if got := a.CeilDiv(b); got != (Point3d{4, 5, 6}) {
		t.Errorf("bad CeilDiv: %s\n", got)
	}
	if a.Prod() != 6000 {
		t.Errorf("bad Prod: %d\n", a.Prod())
	}
	if !b.Inside(Point3d{0, 0, 0}, a) || a.Inside(Point3d{0, 0, 0}, b) {
		t.Errorf("bad Inside\n")
	}
}

func TestChunk(t *testing.T) {
	size := Point3d{32, 32, 32}
	tests := []struct {
		pt    Point3d
		chunk ChunkPoint3d
	}{
		{Point3d{0, 0, 0}, ChunkPoint3d{0, 0, 0}},
		{Point3d{31, 32, 65}, ChunkPoint3d{0, 1, 2}},
		{Point3d{-1, -32, -33}, ChunkPoint3d{-1, -1, -2}},
	}
	for _, tc := range tests {
		if got := tc.pt.Chunk(size); got != tc.chunk {
			t.Errorf("point %s expected chunk %s, got %s\n", tc.pt, tc.chunk, got)
		}
	}
	if got := (ChunkPoint3d{1, 2, 3}).MinPoint(size); got != (Point3d{32, 64, 96}) {
		t.Errorf("bad MinPoint: %s\n", got)
	}
}

func TestIndexToPoint(t *testing.T) {
	size := Point3d{4, 3, 2}
	min := Point3d{10, 20, 30}
	i := 0
	for z := int32(0); z < size[2]; z++ {
		for y := int32(0); y < size[1]; y++ {
			for x := int32(0); x < size[0]; x++ {
				want := Point3d{x + 10, y + 20, z + 30}
				if got := IndexToPoint(i, size, min); got != want {
					t.Errorf("index %d: expected %s, got %s\n", i, want, got)
				}
				i++
			}
		}
	}
}

func TestStringToPoint3d(t *testing.T) {
	p, err := StringToPoint3d("64_-2_7", "_")
	if err != nil {
		t.Fatal(err)
	}
	if p != (Point3d{64, -2, 7}) {
		t.Errorf("bad parse: %s\n", p)
	}
	if _, err := StringToPoint3d("1,2", ","); err == nil {
		t.Errorf("expected error on 2d string\n")
	}
}
