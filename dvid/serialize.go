/*
	This file supports serialization/deserialization and compression of stored values.
*/

package dvid

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrBadChecksum is returned when a stored checksum doesn't match the payload.
var ErrBadChecksum = errors.New("bad checksum")

// Compression is the format of compression for storing data.
// NOTE: Should be no more than 8 (3 bits) of compression types.
type Compression uint8

const (
	Uncompressed Compression = iota
	Snappy
	LZ4
	Gzip
	Zstd
)

func (compress Compression) String() string {
	switch compress {
	case Uncompressed:
		return "No compression"
	case Snappy:
		return "Go Snappy compression"
	case LZ4:
		return "Go LZ4 compression"
	case Gzip:
		return "gzip compression"
	case Zstd:
		return "Zstandard compression"
	default:
		return "Unknown compression"
	}
}

// ParseCompression returns the Compression for a configuration name like "snappy" or "zstd".
// The empty string and "none" are Uncompressed.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none", "uncompressed":
		return Uncompressed, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	default:
		return Uncompressed, fmt.Errorf("unknown compression %q", name)
	}
}

// Checksum is the type of checksum employed for error checking stored data.
// NOTE: Should be no more than 4 (2 bits) of checksum types.
type Checksum uint8

const (
	NoChecksum Checksum = iota
	CRC32
)

func (checksum Checksum) String() string {
	switch checksum {
	case NoChecksum:
		return "No checksum"
	case CRC32:
		return "CRC32 checksum"
	default:
		return "Unknown checksum"
	}
}

// SerializationFormat is a single byte combining both compression and checksum methods.
type SerializationFormat uint8

func EncodeSerializationFormat(compress Compression, checksum Checksum) SerializationFormat {
	a := (uint8(compress) & 0x07) << 5
	b := (uint8(checksum) & 0x03) << 3
	return SerializationFormat(a | b)
}

func DecodeSerializationFormat(s SerializationFormat) (compress Compression, checksum Checksum) {
	compress = Compression(uint8(s) >> 5)
	checksum = Checksum((uint8(s) >> 3) & 0x03)
	return
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// SerializeData serializes a slice of bytes using optional compression and checksum.
// The layout is one format byte, an optional little-endian CRC32 of the payload, then the
// (possibly compressed) payload.
func SerializeData(data []byte, compress Compression, checksum Checksum) ([]byte, error) {
	var byteData []byte
	switch compress {
	case Uncompressed:
		byteData = data
	case Snappy:
		byteData = snappy.Encode(nil, data)
	case LZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		byteData = buf.Bytes()
	case Gzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		byteData = buf.Bytes()
	case Zstd:
		byteData = zstdEncoder.EncodeAll(data, nil)
	default:
		return nil, fmt.Errorf("illegal compression (%s) during serialization", compress)
	}

	s := make([]byte, 0, len(byteData)+5)
	s = append(s, byte(EncodeSerializationFormat(compress, checksum)))
	switch checksum {
	case NoChecksum:
	case CRC32:
		s = binary.LittleEndian.AppendUint32(s, crc32.ChecksumIEEE(byteData))
	default:
		return nil, fmt.Errorf("illegal checksum (%s) during serialization", checksum)
	}
	// Note the actual data is written last, after any checksum so we don't have to
	// worry about length when deserializing.
	return append(s, byteData...), nil
}

// DeserializeData deserializes a slice of bytes using stored compression, checksum.
// If uncompress parameter is false, the data is not uncompressed.
func DeserializeData(s []byte, uncompress bool) (data []byte, compress Compression, err error) {
	if len(s) == 0 {
		err = fmt.Errorf("can't deserialize empty value")
		return
	}
	var checksum Checksum
	compress, checksum = DecodeSerializationFormat(SerializationFormat(s[0]))
	cdata := s[1:]

	switch checksum {
	case NoChecksum:
	case CRC32:
		if len(cdata) < 4 {
			err = fmt.Errorf("serialized value too short (%d bytes) for crc32", len(s))
			return
		}
		storedCrc32 := binary.LittleEndian.Uint32(cdata[0:4])
		cdata = cdata[4:]
		if crcChecksum := crc32.ChecksumIEEE(cdata); crcChecksum != storedCrc32 {
			err = fmt.Errorf("%w: stored %x got %x", ErrBadChecksum, storedCrc32, crcChecksum)
			return
		}
	default:
		err = fmt.Errorf("illegal checksum in deserializing data")
		return
	}

	if !uncompress {
		data = cdata
		return
	}
	switch compress {
	case Uncompressed:
		data = cdata
	case Snappy:
		data, err = snappy.Decode(nil, cdata)
	case LZ4:
		data, err = io.ReadAll(lz4.NewReader(bytes.NewReader(cdata)))
	case Gzip:
		var zr *gzip.Reader
		if zr, err = gzip.NewReader(bytes.NewReader(cdata)); err != nil {
			return
		}
		data, err = io.ReadAll(zr)
		zr.Close()
	case Zstd:
		data, err = zstdDecoder.DecodeAll(cdata, nil)
	default:
		err = fmt.Errorf("illegal compression format (%d) in deserialization", compress)
	}
	return
}
