// Package backup mirrors the local log to object storage and restores it.
//
// A Client is either a Remote, bound to one bucket and one object key, or
// Disabled. Disabled is an operating mode, not a failure: every operation on
// it succeeds without touching the network.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mauri870/aofkv/internal/aof"
	"github.com/mauri870/aofkv/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/mauri870/aofkv/internal/backup")

// Client backs up and restores the local log.
type Client interface {
	// IsBucketReady reports whether the bucket exists, creating it if it
	// does not.
	IsBucketReady(ctx context.Context) bool
	// Upload replaces the remote snapshot with the local log.
	Upload(ctx context.Context) error
	// Download replaces the local log with the remote snapshot.
	Download(ctx context.Context) error
}

// Disabled is the Client used when no remote is configured.
type Disabled struct{}

func (Disabled) IsBucketReady(context.Context) bool { return true }
func (Disabled) Upload(context.Context) error       { return nil }
func (Disabled) Download(context.Context) error     { return nil }

// LocalLog is the local side of the backup.
type LocalLog interface {
	// Path returns the location of the log file.
	Path() string
	// Committed returns the length of the prefix made of whole lines.
	Committed() (int64, error)
	// Close drops any open handle so the next append reopens Path.
	Close() error
}

// Remote is a Client bound to one bucket and object key.
type Remote struct {
	store   ObjectStore
	bucket  string
	key     string
	log     LocalLog
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRemote returns a client mirroring log to bucket/key in store.
func NewRemote(store ObjectStore, bucket, key string, log LocalLog, m *metrics.Metrics, logger *zap.Logger) *Remote {
	return &Remote{
		store:   store,
		bucket:  bucket,
		key:     key,
		log:     log,
		metrics: m,
		logger:  logger.With(zap.String("bucket", bucket), zap.String("key", key)),
	}
}

func (r *Remote) IsBucketReady(ctx context.Context) bool {
	ctx, span := r.start(ctx, "backup.IsBucketReady")
	defer span.End()

	err := r.store.HeadBucket(ctx, r.bucket)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrBucketNotFound) {
		r.logger.Error("failed to check bucket", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return false
	}

	r.logger.Info("bucket not found, creating it")
	if err := r.store.CreateBucket(ctx, r.bucket); err != nil {
		r.logger.Error("failed to create bucket", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return false
	}
	r.logger.Info("bucket created")
	return true
}

func (r *Remote) Upload(ctx context.Context) (err error) {
	ctx, span := r.start(ctx, "backup.Upload")
	begin := time.Now()
	defer func() { r.finish(span, "upload", begin, err) }()

	if !r.IsBucketReady(ctx) {
		return fmt.Errorf("upload %s/%s: %w", r.bucket, r.key, ErrBucketNotFound)
	}

	size, err := r.log.Committed()
	if err != nil {
		return err
	}

	path := r.log.Path()
	f, err := os.Open(path)
	if err != nil {
		return &aof.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	// Upload only the committed prefix. Appends racing with the upload land
	// in the next one.
	body := io.NewSectionReader(f, 0, size)
	if err := r.store.PutObject(ctx, r.bucket, r.key, body, size); err != nil {
		return err
	}

	span.SetAttributes(attribute.Int64("backup.bytes", size))
	r.logger.Info("uploaded log", zap.Int64("bytes", size))
	return nil
}

func (r *Remote) Download(ctx context.Context) (err error) {
	ctx, span := r.start(ctx, "backup.Download")
	begin := time.Now()
	defer func() { r.finish(span, "download", begin, err) }()

	body, err := r.store.GetObject(ctx, r.bucket, r.key)
	if err != nil {
		return err
	}
	defer body.Close()

	path := r.log.Path()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &aof.IOError{Op: "mkdir", Path: dir, Err: err}
	}

	// Stream into a temp file next to the log and move it into place, so
	// an interrupted download never leaves a half written log behind.
	tmp, err := os.CreateTemp(dir, ".wal-*.download")
	if err != nil {
		return &aof.IOError{Op: "create", Path: dir, Err: err}
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		return &TransportError{Op: "get object", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &aof.IOError{Op: "sync", Path: tmp.Name(), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &aof.IOError{Op: "close", Path: tmp.Name(), Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &aof.IOError{Op: "rename", Path: path, Err: err}
	}

	if err := r.log.Close(); err != nil {
		return err
	}

	span.SetAttributes(attribute.Int64("backup.bytes", n))
	r.logger.Info("downloaded log", zap.Int64("bytes", n))
	return nil
}

func (r *Remote) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("backup.bucket", r.bucket),
		attribute.String("backup.key", r.key),
	))
}

func (r *Remote) finish(span trace.Span, op string, begin time.Time, err error) {
	r.metrics.Backup(op, begin, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
