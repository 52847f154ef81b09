package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/blang/semver"
	"github.com/janelia-flyem/labelset/dvid"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		dvid.Errorf("Unable to make semver in memory engine: %v\n", err)
	}
	RegisterEngine(memoryEngine{"memory", "In-process map, contents lost on exit", ver})
}

type memoryEngine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e memoryEngine) GetName() string           { return e.name }
func (e memoryEngine) GetDescription() string    { return e.desc }
func (e memoryEngine) GetSemVer() semver.Version { return e.semver }

func (e memoryEngine) NewStore(config dvid.StoreConfig) (Store, error) {
	name, _, err := config.GetString("name")
	if err != nil {
		return nil, err
	}
	return NewMemoryStore(name), nil
}

// MemoryStore is a Store held in process memory.  Values are copied on Put and Get so callers
// never share buffers with the store.
type MemoryStore struct {
	name string

	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name: name,
		data: make(map[string][]byte),
	}
}

func (m *MemoryStore) String() string {
	return fmt.Sprintf("memory store %q", m.name)
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, found := m.data[key]
	if !found {
		return nil, fmt.Errorf("%s key %q: %w", m, key, ErrNotFound)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	return nil
}

// Len returns the number of keys stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) Close() error {
	return nil
}
