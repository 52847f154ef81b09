// Package minio adds MinIO and other S3-compatible object stores as a block cache store.
//
// Configuration parameters are "endpoint", "bucket", "access_key", "secret_key",
// and optionally "prefix" and "secure".
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/blang/semver"
	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		dvid.Errorf("Unable to make semver in minio: %v\n", err)
	}
	storage.RegisterEngine(Engine{"minio", "MinIO / S3-compatible object store", ver})
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
	settings := make(map[string]string)
	for _, name := range []string{"endpoint", "bucket", "access_key", "secret_key", "prefix"} {
		v, found, err := config.GetString(name)
		if err != nil {
			return nil, err
		}
		if !found && name != "prefix" {
			return nil, fmt.Errorf("%q must be specified for minio configuration", name)
		}
		settings[name] = v
	}
	secure, _, err := config.GetBool("secure")
	if err != nil {
		return nil, err
	}
	client, err := minio.New(settings["endpoint"], &minio.Options{
		Creds:  credentials.NewStaticV4(settings["access_key"], settings["secret_key"], ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("can't create minio client for %s: %v", settings["endpoint"], err)
	}
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, settings["bucket"])
	if err != nil {
		return nil, fmt.Errorf("can't check minio bucket %q: %v", settings["bucket"], err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, settings["bucket"], minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("can't create minio bucket %q: %v", settings["bucket"], err)
		}
		dvid.Infof("Created minio bucket %q @ %s\n", settings["bucket"], settings["endpoint"])
	}
	return NewStore(client, settings["bucket"], settings["prefix"]), nil
}

// Store implements storage.Store for MinIO and S3-compatible storage.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore returns a store over a bucket, prepending prefix to all keys.
func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *Store) String() string {
	return fmt.Sprintf("minio store %s/%s/%s", s.client.EndpointURL().Host, s.bucket, s.prefix)
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err == nil {
		var data []byte
		data, err = io.ReadAll(obj)
		obj.Close()
		if err == nil {
			return data, nil
		}
	}
	if isNotFound(err) {
		return nil, fmt.Errorf("%s key %q: %w", s, key, storage.ErrNotFound)
	}
	return nil, fmt.Errorf("%s get key %q: %w", s, key, err)
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(key), bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("%s put key %q: %w", s, key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
