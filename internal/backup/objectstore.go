package backup

import (
	"context"
	"io"
)

// ObjectStore is the remote side of the backup: a set of named buckets
// holding opaque objects.
type ObjectStore interface {
	// HeadBucket returns nil if the bucket exists, or an error wrapping
	// ErrBucketNotFound if it does not.
	HeadBucket(ctx context.Context, bucket string) error
	// CreateBucket creates the bucket. Creating a bucket the caller already
	// owns succeeds.
	CreateBucket(ctx context.Context, bucket string) error
	// PutObject replaces the object at key with size bytes read from body.
	PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64) error
	// GetObject opens the object at key. The caller closes the body.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
