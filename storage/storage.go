/*
Package storage provides a unified get/put interface to a number of key-value and blob
storage engines used to cache computed label multiset blocks.

Values are opaque []byte at this level.  Engines register themselves at init time and
are instantiated by name from a dvid.StoreConfig, usually a [store.<alias>] table in
the TOML configuration.  Wrappers add a compression envelope (Compressed), an in-process
byte-bounded tier (Freecache), and read-through caching of immutable values (Groupcache).
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"
	"github.com/janelia-flyem/labelset/dvid"
)

// ErrNotFound is returned by Store.Get when the key is not present.  Implementations
// must return an error satisfying errors.Is(err, ErrNotFound) for a missing key so
// callers can tell a miss from a failure.
var ErrNotFound = errors.New("key not found")

// Store is the minimal get/put contract of a backing key-value blob store.
type Store interface {
	fmt.Stringer

	// Get returns the value for a key or an error wrapping ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a value for a key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Close releases any resources held by the store.
	Close() error
}

// Engine is a storage engine that can create stores from a configuration.
type Engine interface {
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// NewStore returns a store given the engine-specific configuration.
	NewStore(config dvid.StoreConfig) (Store, error)
}

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]Engine)
)

// RegisterEngine registers an Engine for DVID use.
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	dvid.Debugf("Engine %q registered with DVID server.\n", e.GetName())
	engines[e.GetName()] = e
}

// GetEngine returns the registered engine with the given name.
func GetEngine(name string) (Engine, bool) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := engines[name]
	return e, found
}

// EnginesAvailable returns a description of the available storage engines.
func EnginesAvailable() string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	var descs []string
	for name, e := range engines {
		descs = append(descs, fmt.Sprintf("%s [%s]: %s", name, e.GetSemVer(), e.GetDescription()))
	}
	sort.Strings(descs)
	return strings.Join(descs, "; ")
}

// NewStore returns a store from the engine named in the configuration.
func NewStore(config dvid.StoreConfig) (Store, error) {
	e, found := GetEngine(config.Engine)
	if !found {
		return nil, fmt.Errorf("no storage engine %q available, only: %s", config.Engine, EnginesAvailable())
	}
	return e.NewStore(config)
}

// IsNotFound returns true if the error denotes a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
