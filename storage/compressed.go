package storage

import (
	"context"
	"fmt"

	"github.com/janelia-flyem/labelset/dvid"
)

// compressedStore wraps values in a dvid serialization envelope before storing them.
type compressedStore struct {
	Store
	compress dvid.Compression
	checksum dvid.Checksum
}

// Compressed returns a Store that compresses and checksums values written to the given
// store.  Values read with a bad checksum or unknown format return an error, which
// callers caching blocks treat as a cache fault.
func Compressed(store Store, compress dvid.Compression, checksum dvid.Checksum) Store {
	return compressedStore{Store: store, compress: compress, checksum: checksum}
}

func (c compressedStore) String() string {
	return fmt.Sprintf("%s (%s, %s)", c.Store, c.compress, c.checksum)
}

func (c compressedStore) Get(ctx context.Context, key string) ([]byte, error) {
	s, err := c.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	data, _, err := dvid.DeserializeData(s, true)
	if err != nil {
		return nil, fmt.Errorf("bad serialized value for key %q in %s: %w", key, c.Store, err)
	}
	return data, nil
}

func (c compressedStore) Put(ctx context.Context, key string, value []byte) error {
	s, err := dvid.SerializeData(value, c.compress, c.checksum)
	if err != nil {
		return err
	}
	return c.Store.Put(ctx, key, s)
}
