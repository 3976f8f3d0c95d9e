package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the S3 backend.
type S3Config struct {
	Region   string
	Endpoint string
	// UsePathStyle addresses buckets as <endpoint>/<bucket>, for S3-compatible stores.
	UsePathStyle bool
	// PublicBaseURL replaces https://<bucket>.s3.amazonaws.com in returned URLs.
	PublicBaseURL string
}

// S3Store is a Store backed by Amazon S3.
type S3Store struct {
	api        S3API
	publicBase string
	logger     *slog.Logger
}

// NewS3 builds an S3 store from the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3WithClient(client, cfg.PublicBaseURL), nil
}

// NewS3WithClient wraps an existing S3 client.
func NewS3WithClient(api S3API, publicBaseURL string) *S3Store {
	return &S3Store{api: api, publicBase: publicBaseURL, logger: slog.Default()}
}

// SetLogger sets the logger.
func (s *S3Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Get downloads an object.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (Object, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return Object{}, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
		}
		return Object{}, fmt.Errorf("s3 get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, fmt.Errorf("s3 read %s/%s: %w", bucket, key, err)
	}

	s.logger.Debug("object fetched", "bucket", bucket, "key", key, "bytes", len(data))
	return Object{Data: data, ContentType: aws.ToString(out.ContentType)}, nil
}

// Put uploads an object, optionally with the public-read canned ACL.
func (s *S3Store) Put(ctx context.Context, bucket, key string, obj Object, publicRead bool) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(obj.Data),
		ContentLength: aws.Int64(int64(len(obj.Data))),
	}
	if obj.ContentType != "" {
		in.ContentType = aws.String(obj.ContentType)
	}
	if publicRead {
		in.ACL = s3types.ObjectCannedACLPublicRead
	}

	if _, err := s.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", bucket, key, err)
	}

	s.logger.Debug("object stored", "bucket", bucket, "key", key, "bytes", len(obj.Data))
	return nil
}

// PublicURL returns the URL a public-read object is served at.
func (s *S3Store) PublicURL(bucket, key string) string {
	if s.publicBase != "" {
		return joinURL(s.publicBase, key)
	}
	return S3PublicURL(bucket, key)
}
