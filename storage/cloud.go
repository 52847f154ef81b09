package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/blang/semver"
	"github.com/janelia-flyem/labelset/dvid"

	"gocloud.dev/blob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcerrors"
	"gocloud.dev/gcp"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		dvid.Errorf("Unable to make semver in blob engine: %v\n", err)
	}
	RegisterEngine(blobEngine{"blob", "Cloud blob bucket (gs, s3, vast, file, mem) via gocloud", ver})
}

type blobEngine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e blobEngine) GetName() string           { return e.name }
func (e blobEngine) GetDescription() string    { return e.desc }
func (e blobEngine) GetSemVer() semver.Version { return e.semver }

// NewStore expects a "ref" setting giving the bucket reference and an optional "prefix"
// under which all keys are placed.
func (e blobEngine) NewStore(config dvid.StoreConfig) (Store, error) {
	ref, found, err := config.GetString("ref")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("blob engine requires a bucket %q setting", "ref")
	}
	prefix, _, err := config.GetString("prefix")
	if err != nil {
		return nil, err
	}
	bucket, err := OpenBucket(ref)
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		bucket = blob.PrefixedBucket(bucket, prefix)
	}
	return NewBlobStore(ref+"/"+prefix, bucket), nil
}

// OpenBucket returns a blob.Bucket for the given reference.
// The reference should be of the form:
//
//	gs://<bucketname>
//	s3://<bucketname>/<optional path>
//	vast://<endpoint>/<bucketname>
//	file:///<directory>
//	mem://
func OpenBucket(ref string) (bucket *blob.Bucket, err error) {
	ctx := context.Background()

	switch {
	case strings.HasPrefix(ref, "s3://"):
		// Requires AWS credentials discoverable by gocloud and the AWS_REGION environment variable.
		bucketpart := strings.TrimPrefix(ref, "s3://")
		parts := strings.SplitN(bucketpart, "/", 2)
		bucket, err = blob.OpenBucket(ctx, "s3://"+parts[0])
		if err != nil {
			dvid.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if len(parts) == 2 && parts[1] != "" {
			bucket = blob.PrefixedBucket(bucket, strings.TrimSuffix(parts[1], "/")+"/")
		}

	case strings.HasPrefix(ref, "vast://"):
		// S3-compatible storage at "vast://<endpoint>/<bucket>".  AWS_REGION must be set
		// though it is ignored, and AWS_SHARED_CREDENTIALS_FILE should hold the keys.
		refParts := strings.SplitN(strings.TrimPrefix(ref, "vast://"), "/", 2)
		if len(refParts) != 2 {
			return nil, fmt.Errorf("vast ref must be of form 'vast://<endpoint>/<bucket>'")
		}
		url := fmt.Sprintf("s3://%s?endpoint=%s&s3ForcePathStyle=true", refParts[1], refParts[0])
		bucket, err = blob.OpenBucket(ctx, url)
		if err != nil {
			dvid.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}

	case strings.HasPrefix(ref, "file://"), strings.HasPrefix(ref, "mem://"):
		bucket, err = blob.OpenBucket(ctx, ref)
		if err != nil {
			dvid.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}

	default:
		// Google Store authentication as default.
		// See https://cloud.google.com/docs/authentication/production
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			return nil, err
		}
		client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(ref, "gs://")
		if bucket, err = gcsblob.OpenBucket(ctx, client, name, nil); err != nil {
			dvid.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
	}
	return bucket, nil
}

// BlobStore is a Store over a gocloud blob bucket.
type BlobStore struct {
	ref    string
	bucket *blob.Bucket
}

// NewBlobStore returns a Store using the given opened bucket.
func NewBlobStore(ref string, bucket *blob.Bucket) *BlobStore {
	return &BlobStore{ref: ref, bucket: bucket}
}

func (b *BlobStore) String() string {
	return fmt.Sprintf("blob store @ %s", b.ref)
}

func (b *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%s key %q: %w", b, key, ErrNotFound)
		}
		return nil, fmt.Errorf("%s get key %q: %w", b, key, err)
	}
	return data, nil
}

func (b *BlobStore) Put(ctx context.Context, key string, value []byte) error {
	if err := b.bucket.WriteAll(ctx, key, value, nil); err != nil {
		return fmt.Errorf("%s put key %q: %w", b, key, err)
	}
	return nil
}

func (b *BlobStore) Close() error {
	return b.bucket.Close()
}
