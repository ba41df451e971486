// Package gcs mirrors downloaded descriptor files into a Google Cloud Storage
// bucket. Objects are write-once: a descriptor already present in the bucket
// is left untouched, so reruns and resumes do not re-upload.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Config selects the bucket and object prefix.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name, e.g. "poms/".
	Prefix string
}

// BlobStore writes descriptor copies to a bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewClient dials GCS with Application Default Credentials unless opts say
// otherwise, and checks that bucket is reachable.
func NewClient(ctx context.Context, bucket string, opts ...option.ClientOption) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("gcs bucket %q: %w", bucket, err)
	}
	return client, nil
}

// New wraps client for the configured bucket.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName is the bucket object a store key maps to.
func (s *BlobStore) ObjectName(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *BlobStore) uri(name string) string {
	return "gs://" + s.bucket + "/" + name
}

// Exists reports whether key is already mirrored.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	name := s.ObjectName(key)
	_, err := s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", s.uri(name), err)
	}
}

// PutObject uploads r unless the object already exists, and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("descriptor key is required")
	}
	name := s.ObjectName(key)
	obj := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})

	w := obj.NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil && !alreadyExists(closeErr) {
			return "", fmt.Errorf("upload %s: %w (close: %v)", s.uri(name), err, closeErr)
		}
		return "", fmt.Errorf("upload %s: %w", s.uri(name), err)
	}
	if err := w.Close(); err != nil {
		if alreadyExists(err) {
			return s.uri(name), nil
		}
		return "", fmt.Errorf("upload %s: %w", s.uri(name), err)
	}
	return s.uri(name), nil
}

func alreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
