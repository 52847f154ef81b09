// Package dvidkv stores blocks in a keyvalue data instance of a remote DVID-compatible
// server over its HTTP API, including another labelset server.
//
// Configuration parameters are "url", "uuid", "instance" and optionally "timeout" in seconds
// and a JWT "token" sent as a bearer token.
package dvidkv

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/go-resty/resty/v2"
	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 60 * time.Second

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		dvid.Errorf("Unable to make semver in dvidkv: %v\n", err)
	}
	storage.RegisterEngine(Engine{"dvidkv", "Keyvalue instance on a remote DVID server", ver})
}

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string           { return e.name }
func (e Engine) GetDescription() string    { return e.desc }
func (e Engine) GetSemVer() semver.Version { return e.semver }

func (e Engine) NewStore(config dvid.StoreConfig) (storage.Store, error) {
	var settings [3]string
	for i, name := range []string{"url", "uuid", "instance"} {
		v, found, err := config.GetString(name)
		if err != nil {
			return nil, err
		}
		if !found || v == "" {
			return nil, fmt.Errorf("%q must be specified for dvidkv configuration", name)
		}
		settings[i] = v
	}
	timeout := DefaultTimeout
	secs, found, err := config.GetInt("timeout")
	if err != nil {
		return nil, err
	}
	if found {
		timeout = time.Duration(secs) * time.Second
	}
	store := NewStore(settings[0], settings[1], settings[2], timeout)
	token, _, err := config.GetString("token")
	if err != nil {
		return nil, err
	}
	if token != "" {
		store.client.SetAuthToken(token)
	}
	return store, nil
}

// Store is a storage.Store over the keyvalue HTTP API of a DVID server.
type Store struct {
	client   *resty.Client
	server   string
	uuid     string
	instance string
}

// NewStore returns a store for the given server URL, version UUID and keyvalue instance.
func NewStore(server, uuid, instance string, timeout time.Duration) *Store {
	return &Store{
		client:   resty.New().SetTimeout(timeout),
		server:   strings.TrimSuffix(server, "/"),
		uuid:     uuid,
		instance: instance,
	}
}

func (s *Store) String() string {
	return fmt.Sprintf("dvid keyvalue %s/api/node/%s/%s", s.server, s.uuid, s.instance)
}

func (s *Store) keyURL(key string) string {
	return fmt.Sprintf("%s/api/node/%s/%s/key/%s", s.server, s.uuid, s.instance, url.PathEscape(key))
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.keyURL(key))
	if err != nil {
		return nil, fmt.Errorf("%s get key %q: %w", s, key, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return resp.Body(), nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s key %q: %w", s, key, storage.ErrNotFound)
	default:
		return nil, fmt.Errorf("%s get key %q: status %d: %s", s, key, resp.StatusCode(), resp.String())
	}
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(value).
		Post(s.keyURL(key))
	if err != nil {
		return fmt.Errorf("%s put key %q: %w", s, key, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s put key %q: status %d: %s", s, key, resp.StatusCode(), resp.String())
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
