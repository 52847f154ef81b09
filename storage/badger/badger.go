// Package badger adds BadgerDB support as a storage engine for cached label multiset blocks.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"

	"github.com/blang/semver"
	"github.com/dgraph-io/badger/v3"
)

const (
	// DefaultVersionsToKeep is the number of versions to keep per key.  Blocks are
	// immutable once computed, so only the latest is kept.
	DefaultVersionsToKeep = 1

	// DefaultSyncWrites is true if all writes are synced to disk, thereby making db resilient
	// at cost of speed.  A lost cached block is simply recomputed.
	DefaultSyncWrites = false
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		dvid.Errorf("Unable to make semver in badger: %v\n", err)
	}
	e := Engine{"badger", "BadgerDB", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewStore returns a badger. The passed Config must contain a "path" string unless
// "inmemory" is true.
func (e Engine) NewStore(config dvid.StoreConfig) (storage.Store, error) {
	return Open(config)
}

func getOptions(config dvid.StoreConfig) (*badger.Options, error) {
	inMemory, _, err := config.GetBool("inmemory")
	if err != nil {
		return nil, err
	}
	path, found, err := config.GetString("path")
	if err != nil {
		return nil, err
	}
	if !found && !inMemory {
		return nil, fmt.Errorf("%q must be specified for BadgerDB configuration", "path")
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithNumVersionsToKeep(DefaultVersionsToKeep).WithSyncWrites(DefaultSyncWrites)
	opts = opts.WithLogger(nil)

	readOnly, found, err := config.GetBool("ReadOnly")
	if err != nil {
		return nil, err
	}
	if found {
		opts = opts.WithReadOnly(readOnly)
	}
	valueSizeThresh, found, err := config.GetInt("ValueThreshold")
	if err != nil {
		return nil, err
	}
	if found {
		opts = opts.WithValueThreshold(int64(valueSizeThresh))
	}
	vlogSize, found, err := config.GetInt("ValueLogFileSize")
	if err != nil {
		return nil, err
	}
	if found {
		opts = opts.WithValueLogFileSize(int64(vlogSize))
	}
	return &opts, nil
}

// BadgerDB is a storage.Store backed by a Badger key-value database.
type BadgerDB struct {
	// Directory of datastore or empty if in-memory.
	directory string

	options *badger.Options
	bdp     *badger.DB

	// stopSyncCh is used to signal the sync goroutine to stop.
	stopSyncCh chan struct{}
}

// Open returns a Badger store, creating one at the configured path if it doesn't exist.
func Open(config dvid.StoreConfig) (*BadgerDB, error) {
	opts, err := getOptions(config)
	if err != nil {
		return nil, err
	}
	if !opts.InMemory {
		if _, err := os.Stat(opts.Dir); os.IsNotExist(err) {
			dvid.Infof("Database not already at path (%s). Creating directory...\n", opts.Dir)
			if err := os.MkdirAll(opts.Dir, 0744); err != nil {
				return nil, fmt.Errorf("can't make directory at %s: %v", opts.Dir, err)
			}
		}
	}

	dvid.Infof("Opening badger @ path %q\n", opts.Dir)
	bdp, err := badger.Open(*opts)
	if err != nil {
		return nil, err
	}
	db := &BadgerDB{
		directory:  opts.Dir,
		options:    opts,
		bdp:        bdp,
		stopSyncCh: make(chan struct{}),
	}
	if !opts.InMemory && !opts.ReadOnly {
		go db.syncPeriodically()
	}
	return db, nil
}

// Periodically sync to prevent too many writes from being buffered
// if server crashes.
func (db *BadgerDB) syncPeriodically() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-db.stopSyncCh:
			dvid.Infof("Stopping sync goroutine for badger @ %s\n", db.directory)
			return
		case <-ticker.C:
			if err := db.bdp.Sync(); err != nil {
				dvid.Errorf("Unable to sync badger @ %s: %v\n", db.directory, err)
			}
		}
	}
}

func (db *BadgerDB) String() string {
	if db.options != nil && db.options.InMemory {
		return "badger in-memory"
	}
	return fmt.Sprintf("badger @ %s", db.directory)
}

// Close closes the BadgerDB
func (db *BadgerDB) Close() error {
	if db == nil || db.bdp == nil {
		return nil
	}
	close(db.stopSyncCh)
	err := db.bdp.Close()
	dvid.Infof("Closed Badger DB @ %s\n", db.directory)
	db.bdp = nil
	return err
}

// Get returns a value given a key.
func (db *BadgerDB) Get(ctx context.Context, key string) ([]byte, error) {
	if db == nil || db.bdp == nil {
		return nil, fmt.Errorf("can't call Get() on closed BadgerDB")
	}
	var value []byte
	err := db.bdp.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s key %q: %w", db, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s get key %q: %w", db, key, err)
	}
	return value, nil
}

// Put writes a value with given key.
func (db *BadgerDB) Put(ctx context.Context, key string, value []byte) error {
	if db == nil || db.bdp == nil {
		return fmt.Errorf("can't call Put() on closed BadgerDB")
	}
	v := make([]byte, len(value))
	copy(v, value)
	return db.bdp.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), v)
	})
}
