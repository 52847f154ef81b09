package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/coocood/freecache"
	"github.com/janelia-flyem/labelset/dvid"
)

// freecacheStore is a read-through, write-through in-process tier in front of a Store.
type freecacheStore struct {
	Store
	cache *freecache.Cache
}

// Freecache returns a Store that keeps up to about numBytes of recently used values in
// process memory in front of the given store.  Values too large for the cache are only
// kept in the backing store.
func Freecache(store Store, numBytes int) Store {
	mbs := numBytes >> 20
	dvid.Infof("Created freecache of ~ %d MB in front of %s.\n", mbs, store)
	return freecacheStore{Store: store, cache: freecache.NewCache(numBytes)}
}

func (f freecacheStore) String() string {
	return fmt.Sprintf("freecache tier over %s", f.Store)
}

func (f freecacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := f.cache.Get([]byte(key))
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, freecache.ErrNotFound) {
		dvid.Errorf("freecache get of key %q: %v\n", key, err)
	}
	if v, err = f.Store.Get(ctx, key); err != nil {
		return nil, err
	}
	f.set(key, v)
	return v, nil
}

func (f freecacheStore) Put(ctx context.Context, key string, value []byte) error {
	if err := f.Store.Put(ctx, key, value); err != nil {
		return err
	}
	f.set(key, value)
	return nil
}

func (f freecacheStore) set(key string, value []byte) {
	err := f.cache.Set([]byte(key), value, 0)
	if err != nil && !errors.Is(err, freecache.ErrLargeEntry) {
		dvid.Errorf("freecache set of key %q: %v\n", key, err)
	}
}
