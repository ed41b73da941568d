package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.etcd.io/bbolt"
)

// BoltStore is an ObjectStore kept in a single bbolt file, for deployments
// that mirror the log to a mounted volume instead of a cloud bucket. Each
// object-storage bucket is a bbolt bucket.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens or creates the bbolt file at path. It waits at most
// timeout for the file lock held by another process.
func OpenBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) HeadBucket(_ context.Context, bucket string) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucket)) == nil {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
		}
		return nil
	})
}

func (b *BoltStore) CreateBucket(_ context.Context, bucket string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
}

func (b *BoltStore) PutObject(_ context.Context, bucket, key string, body io.ReadSeeker, size int64) error {
	data := make([]byte, size)
	if _, err := io.ReadFull(body, data); err != nil {
		return fmt.Errorf("put object: read body: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return notFound("put object", "NoSuchBucket", bucket)
		}
		return bkt.Put([]byte(key), data)
	})
}

func (b *BoltStore) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return notFound("get object", "NoSuchBucket", bucket)
		}

		v := bkt.Get([]byte(key))
		if v == nil {
			return notFound("get object", "NoSuchKey", key)
		}
		// copy the value, it is only valid for the life of the transaction.
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(value)), nil
}

func notFound(op, code, name string) error {
	return &ServiceError{
		Op:         op,
		StatusCode: http.StatusNotFound,
		Code:       code,
		Err:        fmt.Errorf("%s does not exist", name),
	}
}
