package storage

import (
	"context"
	"fmt"

	"github.com/blang/semver"
	"github.com/janelia-flyem/labelset/dvid"
	"github.com/tinylib/msgp/msgp"
)

// MetadataKey is the reserved key under which a level store records its layout.
const MetadataKey = "_meta"

// FormatVersion is the version of the cached block encoding written by this code.
var FormatVersion = semver.MustParse("1.0.0")

// Metadata describes the blocks cached in a level store.  A server refuses to use a store
// whose metadata is incompatible with its configuration rather than serving blocks of
// the wrong geometry.
type Metadata struct {
	Version   semver.Version
	Level     uint8
	BlockSize dvid.Point3d
	Factors   dvid.Point3d // downscaling factors relative to the previous level
}

// MarshalMsg appends the msgpack encoding of the metadata to b.
func (m Metadata) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 4)
	b = msgp.AppendString(b, "version")
	b = msgp.AppendString(b, m.Version.String())
	b = msgp.AppendString(b, "level")
	b = msgp.AppendUint8(b, m.Level)
	b = msgp.AppendString(b, "block_size")
	b = appendPoint(b, m.BlockSize)
	b = msgp.AppendString(b, "factors")
	b = appendPoint(b, m.Factors)
	return b, nil
}

func appendPoint(b []byte, p dvid.Point3d) []byte {
	b = msgp.AppendArrayHeader(b, 3)
	for _, v := range p {
		b = msgp.AppendInt32(b, v)
	}
	return b
}

// UnmarshalMsg decodes msgpack metadata, ignoring unknown fields.
func (m *Metadata) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < n; i++ {
		var field string
		if field, b, err = msgp.ReadStringBytes(b); err != nil {
			return b, err
		}
		switch field {
		case "version":
			var s string
			if s, b, err = msgp.ReadStringBytes(b); err != nil {
				return b, err
			}
			if m.Version, err = semver.Parse(s); err != nil {
				return b, err
			}
		case "level":
			if m.Level, b, err = msgp.ReadUint8Bytes(b); err != nil {
				return b, err
			}
		case "block_size":
			if m.BlockSize, b, err = readPoint(b); err != nil {
				return b, err
			}
		case "factors":
			if m.Factors, b, err = readPoint(b); err != nil {
				return b, err
			}
		default:
			if b, err = msgp.Skip(b); err != nil {
				return b, err
			}
		}
	}
	return b, nil
}

func readPoint(b []byte) (p dvid.Point3d, rest []byte, err error) {
	var n uint32
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return p, b, err
	}
	if n != 3 {
		return p, b, fmt.Errorf("expected 3 coordinates, got %d", n)
	}
	for i := range p {
		if p[i], b, err = msgp.ReadInt32Bytes(b); err != nil {
			return p, b, err
		}
	}
	return p, b, nil
}

// Compatible returns an error if blocks described by other cannot be served under m.
func (m Metadata) Compatible(other Metadata) error {
	if m.Version.Major != other.Version.Major {
		return fmt.Errorf("block format version %s incompatible with %s", other.Version, m.Version)
	}
	if m.Level != other.Level {
		return fmt.Errorf("store holds level %d, expected level %d", other.Level, m.Level)
	}
	if m.BlockSize != other.BlockSize {
		return fmt.Errorf("store holds block size %s, expected %s", other.BlockSize, m.BlockSize)
	}
	if m.Factors != other.Factors {
		return fmt.Errorf("store holds factors %s, expected %s", other.Factors, m.Factors)
	}
	return nil
}

// ReadMetadata returns the metadata recorded in a store.  A store with no metadata
// returns an error wrapping ErrNotFound.
func ReadMetadata(ctx context.Context, store Store) (Metadata, error) {
	var m Metadata
	data, err := store.Get(ctx, MetadataKey)
	if err != nil {
		return m, err
	}
	if _, err = m.UnmarshalMsg(data); err != nil {
		return m, fmt.Errorf("bad metadata in %s: %w", store, err)
	}
	return m, nil
}

// WriteMetadata records the metadata in a store.
func WriteMetadata(ctx context.Context, store Store, m Metadata) error {
	data, err := m.MarshalMsg(nil)
	if err != nil {
		return err
	}
	return store.Put(ctx, MetadataKey, data)
}

// CheckMetadata verifies a store's metadata against the expected layout, writing it
// if the store has none yet.
func CheckMetadata(ctx context.Context, store Store, expected Metadata) error {
	m, err := ReadMetadata(ctx, store)
	if IsNotFound(err) {
		dvid.Infof("Recording level %d metadata in %s\n", expected.Level, store)
		return WriteMetadata(ctx, store, expected)
	}
	if err != nil {
		return err
	}
	if err := expected.Compatible(m); err != nil {
		return fmt.Errorf("%s: %w", store, err)
	}
	return nil
}
