package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// defaultRegion needs no location constraint on bucket creation.
const defaultRegion = "us-east-1"

// S3Config configures an S3 or S3-compatible backend.
type S3Config struct {
	// Region the bucket lives in, and is created in when missing.
	Region string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO.
	Endpoint string
	// UsePathStyle addresses buckets as host/bucket instead of bucket.host.
	UsePathStyle bool
	// AccessKeyID and SecretAccessKey are optional static credentials. The
	// default AWS credential chain is used when they are empty.
	AccessKeyID     string
	SecretAccessKey string
	// MaxAttempts bounds SDK retries. Zero keeps the SDK default.
	MaxAttempts int
}

// S3Store is an ObjectStore backed by Amazon S3.
type S3Store struct {
	client *s3.Client
	region string
}

// NewS3Store loads the AWS configuration from the environment, overridden by
// cfg, and returns a store using it.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StoreFromClient(client, cfg.Region), nil
}

// NewS3StoreFromClient wraps an existing client. Buckets are created in
// region.
func NewS3StoreFromClient(client *s3.Client, region string) *S3Store {
	return &S3Store{client: client, region: region}
}

func (s *S3Store) HeadBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}

	err = s3Error("head bucket", err)
	var se *ServiceError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	}
	return err
}

func (s *S3Store) CreateBucket(ctx context.Context, bucket string) error {
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != "" && s.region != defaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	_, err := s.client.CreateBucket(ctx, in)
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return nil
	}
	return s3Error("create bucket", err)
}

func (s *S3Store) PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("text/plain; charset=utf-8"),
	})
	return s3Error("put object", err)
}

func (s *S3Store) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error("get object", err)
	}
	return out.Body, nil
}

// s3Error sorts SDK errors into service errors, which carry an HTTP status,
// and transport errors, which do not.
func s3Error(op string, err error) error {
	if err == nil {
		return nil
	}

	// The SDK wraps send failures in a ResponseError too, with no response
	// behind it. Those are transport errors.
	var re *awshttp.ResponseError
	if errors.As(err, &re) && hasResponse(re) {
		se := &ServiceError{Op: op, StatusCode: re.HTTPStatusCode(), Err: err}
		var ae smithy.APIError
		if errors.As(err, &ae) {
			se.Code = ae.ErrorCode()
		}
		return se
	}
	return &TransportError{Op: op, Err: err}
}

func hasResponse(re *awshttp.ResponseError) bool {
	return re.ResponseError != nil &&
		re.Response != nil &&
		re.Response.Response != nil &&
		re.HTTPStatusCode() != 0
}
