package swift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
	"github.com/ncw/swift"
)

const (
	// The maximum number of operations sent to Swift in parallel.
	maxConcurrentOperations = 10

	// The initial delay upon a failure.
	initialDelay = 50 * time.Millisecond

	// The maximum delay after which we give up and an error is returned.
	maximumDelay = 20 * time.Minute
)

// rateLimit is a buffered channel used to limit the number of concurrent
// operations sent to Swift.
var rateLimit = make(chan struct{}, maxConcurrentOperations)

// Store implements storage.Store as an Openstack Swift container.
type Store struct {
	// The Swift container name.
	container string

	// The Swift connection.
	conn *swift.Connection
}

func (s *Store) String() string {
	return fmt.Sprintf(`Openstack Swift store, user "%s", container "%s"`, s.conn.UserName, s.container)
}

// Close closes the store.
func (s *Store) Close() error {
	// Nothing to close.
	return nil
}

// NewStore returns a new Swift store.
func NewStore(config dvid.StoreConfig) (*Store, error) {
	s := &Store{
		conn: &swift.Connection{},
	}

	configString := func(param string, required bool) (string, error) {
		value, ok, e := config.GetString(param)
		if !ok {
			if required {
				return "", fmt.Errorf(`configuration parameter "%s" missing`, param)
			}
			return "", nil
		}
		if e != nil {
			return "", fmt.Errorf(`error retrieving configuration parameter "%s" (may not be a string): %s`, param, e)
		}
		if value == "" {
			return "", fmt.Errorf(`configuration parameter "%s" must not be empty`, param)
		}
		return value, nil
	}
	var err error
	if s.conn.UserName, err = configString("user", true); err != nil {
		return nil, err
	}
	if s.conn.ApiKey, err = configString("key", true); err != nil {
		return nil, err
	}
	if s.conn.AuthUrl, err = configString("auth", true); err != nil {
		return nil, err
	}
	if s.conn.Tenant, err = configString("project", false); err != nil {
		return nil, err
	}
	if s.conn.Tenant != "" {
		s.conn.AuthVersion = 3
	}
	if s.conn.TenantDomain, err = configString("domain", false); err != nil {
		return nil, err
	}
	if s.container, err = configString("container", true); err != nil {
		return nil, err
	}

	// Authenticate with Swift.
	if err := s.conn.Authenticate(); err != nil {
		return nil, fmt.Errorf(`unable to authenticate with the Swift database: %s`, err)
	}
	dvid.Infof("Successfully authenticated to Openstack Swift with user \"%s\", container \"%s\" via %s\n", s.conn.UserName, s.container, s.conn.AuthUrl)

	// Check if container exists.
	_, _, err = s.conn.Container(s.container)
	if err == swift.ContainerNotFound {
		if err = s.conn.ContainerCreate(s.container, nil); err != nil {
			return nil, fmt.Errorf(`cannot create Swift container "%s": %s`, s.container, err)
		}
		dvid.Infof("Created new container \"%s\"\n", s.container)
	} else if err != nil {
		return nil, fmt.Errorf(`unable to check if Swift container "%s" exists: %s`, s.container, err)
	}
	return s, nil
}

// retry calls f with increasing delays until it succeeds, returns a permanent error, or
// the context is done.
func retry(ctx context.Context, f func() (permanent bool, err error)) error {
	delay := initialDelay
	for {
		rateLimit <- struct{}{}
		permanent, err := f()
		<-rateLimit
		if err == nil || permanent {
			return err
		}
		if delay > maximumDelay {
			return fmt.Errorf("maximum Swift retries exceeded: %w", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%v (last Swift error: %s)", ctx.Err(), err)
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Get returns the object for the given key, retrying if there is an error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var contents []byte
	err := retry(ctx, func() (bool, error) {
		var err error
		contents, err = s.conn.ObjectGetBytes(s.container, key)
		return errors.Is(err, swift.ObjectNotFound), err
	})
	if errors.Is(err, swift.ObjectNotFound) {
		return nil, fmt.Errorf("%s key %q: %w", s, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if contents == nil {
		contents = []byte{}
	}
	return contents, nil
}

// Put writes an object with the given key, retrying if there is an error.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return retry(ctx, func() (bool, error) {
		return false, s.conn.ObjectPutBytes(s.container, key, value, "application/octet-stream")
	})
}
