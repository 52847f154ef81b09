package server

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/golang/groupcache"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/labelset/datatype/common/downres"
	"github.com/janelia-flyem/labelset/datatype/labelblk"
	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
	"github.com/janelia-flyem/labelset/storage/filelog"

	// engines available through [store.<alias>] configurations.
	_ "github.com/janelia-flyem/labelset/storage/badger"
	_ "github.com/janelia-flyem/labelset/storage/bigtable"
	_ "github.com/janelia-flyem/labelset/storage/dvidkv"
	_ "github.com/janelia-flyem/labelset/storage/minio"
	_ "github.com/janelia-flyem/labelset/storage/swift"
)

// Service holds the stores, raw source and pyramid loader of a running server.
type Service struct {
	config  *Config
	id      string
	started time.Time

	stores   map[string]storage.Store // opened stores by alias
	source   labelblk.Volume
	loader   *downres.Loader
	keyvalue map[string]storage.Store
	mutlog   storage.Log
	pool     *groupcache.HTTPPool
}

// NewService opens every configured store and builds the pyramid loader.  Level stores are
// checked against the pyramid layout.
func NewService(ctx context.Context, config *Config) (*Service, error) {
	s := &Service{
		config:   config,
		id:       uuid.NewV4().String(),
		started:  time.Now(),
		stores:   make(map[string]storage.Store, len(config.Store)),
		keyvalue: make(map[string]storage.Store, len(config.Keyvalue)),
	}
	if err := s.open(ctx); err != nil {
		if s.mutlog != nil {
			s.mutlog.Close()
		}
		s.closeStores()
		return nil, err
	}
	dvid.Infof("Pyramid with %d levels and block size %s over %s\n", s.loader.NumLevels(), s.loader.BlockSize(), s.source)
	return s, nil
}

func (s *Service) open(ctx context.Context) error {
	config := s.config

	aliases := make([]string, 0, len(config.Store))
	for alias := range config.Store {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		sc, err := config.StoreConfig(alias)
		if err != nil {
			return err
		}
		store, err := storage.NewStore(sc)
		if err != nil {
			return fmt.Errorf("store %q: %v", alias, err)
		}
		dvid.Infof("Opened store %q: %s\n", alias, store)
		s.stores[alias] = store
	}

	source, err := openSource(ctx, config.Source, s.stores[config.Source.Store])
	if err != nil {
		return fmt.Errorf("[source]: %v", err)
	}
	s.source = source

	for name, alias := range config.Keyvalue {
		s.keyvalue[name] = s.stores[alias]
	}

	if path := config.Mutations.Jsonstore; path != "" {
		mutlog, err := filelog.Open(path)
		if err != nil {
			return fmt.Errorf("[mutations]: %v", err)
		}
		s.mutlog = mutlog
	}

	levelStores, err := s.levelStores()
	if err != nil {
		return err
	}
	activity, err := config.Kafka.NewActivityLog(s.id)
	if err != nil {
		return fmt.Errorf("[kafka]: %v", err)
	}
	s.loader, err = downres.NewLoader(s.source, config.Pyramid.LoaderConfig(), levelStores, activity)
	if err != nil {
		activity.Close()
		return fmt.Errorf("[pyramid]: %v", err)
	}
	if err := s.loader.CheckStores(ctx); err != nil {
		activity.Close()
		s.loader = nil
		return err
	}
	return nil
}

func openSource(ctx context.Context, sc SourceConfig, store storage.Store) (labelblk.Volume, error) {
	if sc.Format == "precomputed" {
		return labelblk.NewPrecomputed(ctx, store, sc.Scale)
	}
	compress, err := dvid.ParseCompression(sc.Compression)
	if err != nil {
		return nil, err
	}
	return labelblk.NewChunked(store, sc.ChunkSize, sc.Min, sc.Max, compress)
}

// levelStores wraps the store of each level above 0 with compression and the configured
// cache tiers.
func (s *Service) levelStores() ([]storage.Store, error) {
	compress, err := dvid.ParseCompression(s.config.Pyramid.Compression)
	if err != nil {
		return nil, err
	}
	s.pool = storage.SetupGroupcache(s.config.Groupcache)

	stores := make([]storage.Store, len(s.config.Pyramid.Stores))
	for i, alias := range s.config.Pyramid.Stores {
		level := i + 1
		store := storage.Compressed(s.stores[alias], compress, dvid.CRC32)
		if mb := s.config.Cache.FreecacheMB; mb > 0 {
			store = storage.Freecache(store, mb*dvid.Mega)
		}
		if s.pool != nil {
			store = storage.Groupcache(store, fmt.Sprintf("level%d", level), int64(s.config.Groupcache.MB)*dvid.Mega)
		}
		stores[i] = store
	}
	return stores, nil
}

// ID returns the unique identifier of this server process.
func (s *Service) ID() string {
	return s.id
}

// Loader returns the pyramid loader.
func (s *Service) Loader() *downres.Loader {
	return s.loader
}

// Source returns the raw label volume.
func (s *Service) Source() labelblk.Volume {
	return s.source
}

// Close flushes the activity log and closes every store.
func (s *Service) Close() error {
	var firstErr error
	if s.loader != nil {
		if err := s.loader.Close(); err != nil {
			firstErr = err
		}
		// the loader closed the pyramid stores.
		for _, alias := range s.config.Pyramid.Stores {
			delete(s.stores, alias)
		}
	}
	if s.mutlog != nil {
		if err := s.mutlog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.closeStores(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Service) closeStores() error {
	var firstErr error
	for alias, store := range s.stores {
		if err := store.Close(); err != nil {
			dvid.Errorf("Error closing store %q: %v\n", alias, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(s.stores, alias)
	}
	return firstErr
}
