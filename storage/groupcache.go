package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/groupcache"
	"github.com/janelia-flyem/labelset/dvid"
	"github.com/twinj/uuid"
)

// GroupcacheConfig is the [groupcache] section of a TOML configuration.
type GroupcacheConfig struct {
	MB    int      // size of each group's cache in megabytes; zero disables groupcache.
	Host  string   // this server's groupcache URL, e.g., "http://10.0.0.1:8000"
	Peers []string // peer URLs including this Host
}

var (
	poolOnce sync.Once
	pool     *groupcache.HTTPPool
)

// SetupGroupcache sets the peers used by all groups.  Peers can only be set once per
// process, so later calls return the first pool.  The returned pool serves peer requests
// and should be mounted at "/_groupcache/" on this server.
func SetupGroupcache(config GroupcacheConfig) *groupcache.HTTPPool {
	if config.MB == 0 || config.Host == "" {
		return nil
	}
	poolOnce.Do(func() {
		pool = groupcache.NewHTTPPoolOpts(config.Host, nil)
		peers := config.Peers
		if len(peers) == 0 {
			peers = []string{config.Host}
		}
		pool.Set(peers...)
		dvid.Infof("Initialized groupcache at %s with peers %s\n", config.Host, strings.Join(peers, ", "))
	})
	return pool
}

// groupcacheStore tries groupcache before resorting to the wrapped Store.  Groupcache
// never invalidates, which is valid only for immutable values such as computed blocks.
type groupcacheStore struct {
	Store
	group *groupcache.Group
}

// Groupcache returns a Store whose Gets go through a groupcache group of the given size.
// Errors, including misses, are not cached, so a value Put after a miss is found by the
// next Get.
func Groupcache(store Store, name string, cacheBytes int64) Store {
	// group names must be unique per process.
	groupName := fmt.Sprintf("%s-%s", name, uuid.NewV4())
	group := groupcache.NewGroup(groupName, cacheBytes, groupcache.GetterFunc(
		func(ctx context.Context, key string, dest groupcache.Sink) error {
			data, err := store.Get(ctx, key)
			if err != nil {
				return err
			}
			return dest.SetBytes(data)
		}))
	dvid.Infof("Initialized groupcache group %q with %d bytes over %s\n", groupName, cacheBytes, store)
	return groupcacheStore{Store: store, group: group}
}

func (g groupcacheStore) String() string {
	return fmt.Sprintf("groupcache %q over %s", g.group.Name(), g.Store)
}

// only need to override the Get function of the wrapped Store.
func (g groupcacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	if err := g.group.Get(ctx, key, groupcache.AllocatingByteSliceSink(&data)); err != nil {
		return nil, err
	}
	return data, nil
}
