package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

func testStore(t *testing.T, store storage.Store) {
	ctx := context.Background()
	if _, err := store.Get(ctx, "1_0_0_0_0"); !storage.IsNotFound(err) {
		t.Fatalf("expected not found on empty store, got %v", err)
	}
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("1_0_%d_0_0", i*64)
		if err := store.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("put %q: %v", key, err)
		}
	}
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("1_0_%d_0_0", i*64)
		v, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("get %q: %v", key, err)
		}
		if string(v) != key {
			t.Errorf("expected value %q, got %q", key, v)
		}
	}
}

func TestBadgerInMemory(t *testing.T) {
	store, err := storage.NewStore(dvid.StoreConfig{
		Config: dvid.Config{"inmemory": true},
		Engine: "badger",
	})
	if err != nil {
		t.Fatalf("can't open in-memory badger: %v", err)
	}
	defer store.Close()
	testStore(t, store)
}

func TestBadgerReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "level1")
	config := dvid.StoreConfig{
		Config: dvid.Config{"path": path},
		Engine: "badger",
	}
	db, err := Open(config)
	if err != nil {
		t.Fatalf("can't open badger at %s: %v", path, err)
	}
	testStore(t, db)
	if err := db.Close(); err != nil {
		t.Fatalf("error closing badger: %v", err)
	}

	db, err = Open(config)
	if err != nil {
		t.Fatalf("can't reopen badger at %s: %v", path, err)
	}
	defer db.Close()
	v, err := db.Get(context.Background(), "1_0_64_0_0")
	if err != nil {
		t.Fatalf("value not persisted: %v", err)
	}
	if string(v) != "1_0_64_0_0" {
		t.Errorf("bad persisted value %q", v)
	}
}

func TestBadgerConfig(t *testing.T) {
	if _, err := Open(dvid.StoreConfig{Config: dvid.Config{}, Engine: "badger"}); err == nil {
		t.Errorf("expected error when neither path nor inmemory given")
	}
}
