// Package bodystorage keeps failed message bodies in a gocloud blob bucket.
package bodystorage

import (
	"context"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	"gocloud.dev/gcerrors"

	apperrors "github.com/allisson/recoverability/internal/errors"
	fmdomain "github.com/allisson/recoverability/internal/failedmessage/domain"
)

// Store reads and writes message bodies by key.
type Store struct {
	bucket *blob.Bucket
}

// Open opens the bucket named by url, for example "file:///var/lib/recoverability/bodies?create_dir=true"
// or "mem://".
func Open(ctx context.Context, url string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to open body storage")
	}
	return New(bucket), nil
}

// New wraps an already opened bucket.
func New(bucket *blob.Bucket) *Store {
	return &Store{bucket: bucket}
}

// Write stores body under key, replacing any previous content.
func (s *Store) Write(ctx context.Context, key string, body []byte, contentType string) error {
	opts := &blob.WriterOptions{ContentType: contentType}
	if err := s.bucket.WriteAll(ctx, key, body, opts); err != nil {
		return apperrors.Wrap(err, "failed to write message body")
	}
	return nil
}

// Read returns the body stored under key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	body, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmdomain.ErrBodyNotFound
		}
		return nil, apperrors.Wrap(err, "failed to read message body")
	}
	return body, nil
}

// Delete removes the body stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fmdomain.ErrBodyNotFound
		}
		return apperrors.Wrap(err, "failed to delete message body")
	}
	return nil
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}
