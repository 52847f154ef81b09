package dvid

import (
	"bytes"
	"errors"
	"testing"
)

func TestSerialization(t *testing.T) {
	data := bytes.Repeat([]byte("some label data 0123456789 "), 200)
	for _, compress := range []Compression{Uncompressed, Snappy, LZ4, Gzip, Zstd} {
		for _, checksum := range []Checksum{NoChecksum, CRC32} {
			s, err := SerializeData(data, compress, checksum)
			if err != nil {
				t.Fatalf("error serializing with %s, %s: %v\n", compress, checksum, err)
			}
			out, gotCompress, err := DeserializeData(s, true)
			if err != nil {
				t.Fatalf("error deserializing with %s, %s: %v\n", compress, checksum, err)
			}
			if gotCompress != compress {
				t.Errorf("expected compression %s, got %s\n", compress, gotCompress)
			}
			if !bytes.Equal(out, data) {
				t.Errorf("round trip with %s, %s didn't produce same data\n", compress, checksum)
			}
		}
	}
}

func TestBadChecksum(t *testing.T) {
	s, err := SerializeData([]byte("hello world"), Snappy, CRC32)
	if err != nil {
		t.Fatal(err)
	}
	s[len(s)-1] ^= 0xFF
	if _, _, err := DeserializeData(s, true); !errors.Is(err, ErrBadChecksum) {
		t.Errorf("expected bad checksum error, got %v\n", err)
	}
	if _, _, err := DeserializeData(nil, true); err == nil {
		t.Errorf("expected error deserializing empty value\n")
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		name string
		want Compression
	}{
		{"", Uncompressed},
		{"none", Uncompressed},
		{"Snappy", Snappy},
		{"lz4", LZ4},
		{"gzip", Gzip},
		{"zstd", Zstd},
	}
	for _, tc := range tests {
		got, err := ParseCompression(tc.name)
		if err != nil || got != tc.want {
			t.Errorf("ParseCompression(%q) = %s, %v; want %s\n", tc.name, got, err, tc.want)
		}
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Errorf("expected error for unknown compression\n")
	}
}
