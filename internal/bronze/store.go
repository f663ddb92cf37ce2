// Package bronze lands raw harvested payloads in the object store. Objects
// are immutable, written exactly once per (api, endpoint, partition), and a
// single PUT makes each write atomic at the object level.
package bronze

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/brgmlab/hydropipe/internal/faults"
)

// ErrObjectNotFound reports a key with no object behind it. An upstream
// endpoint that returned no data lands no object, so readers check for this
// to distinguish an empty partition from a broken store.
var ErrObjectNotFound = errors.New("object not found")

// Content types stored alongside bronze objects.
const (
	ContentTypeJSON = "application/json"
	ContentTypeGML  = "application/gml+xml"
)

// ObjectStore is the minimal S3-style contract the writer needs. The real
// implementation is minio; tests use the in-memory store from
// testhelpers.go.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// MinioConfig carries the connection settings for the object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type minioStore struct {
	client *minio.Client
}

// NewMinioStore connects to an S3-compatible endpoint.
func NewMinioStore(cfg MinioConfig) (ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, faults.Config("object store client for %s: %v", cfg.Endpoint, err)
	}
	return &minioStore{client: client}, nil
}

func (s *minioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return faults.StoreWrite(err, "check bucket %s", bucket)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return faults.StoreWrite(err, "create bucket %s", bucket)
	}
	return nil
}

func (s *minioStore) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return faults.StoreWrite(err, "put %s/%s", bucket, key)
	}
	return nil
}

func (s *minioStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, faults.StoreWrite(err, "get %s/%s", bucket, key)
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		// minio surfaces missing keys lazily, on the first read.
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, faults.StoreWrite(err, "read %s/%s", bucket, key)
	}
	return body, nil
}
