package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"cardscan/internal/config"
	"cardscan/internal/services"
)

// ObjectAPI is the subset of the S3 client used for image storage.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3 stores images as objects in an S3 (or S3-compatible) bucket.
type S3 struct {
	client   ObjectAPI
	bucket   string
	prefix   string
	maxBytes int64
}

// NewS3 builds an S3 client from the storage configuration. Static credentials
// are used when configured; otherwise the default AWS credential chain applies.
func NewS3(ctx context.Context, cfg config.Storage, maxBytes int64) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "init", "load aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return NewS3WithClient(client, cfg.S3Bucket, cfg.S3Prefix, maxBytes), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(client ObjectAPI, bucket, prefix string, maxBytes int64) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, maxBytes: maxBytes}
}

func (s *S3) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put uploads body as key. The body is buffered so the size limit is enforced
// before anything reaches the bucket.
func (s *S3) Put(ctx context.Context, key string, body io.Reader, contentType string) (int64, error) {
	reader := body
	if s.maxBytes > 0 {
		reader = io.LimitReader(body, s.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, component, "put", "read upload", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return 0, services.Wrap(services.ErrValidation, component, "put",
			fmt.Sprintf("image exceeds %d MiB limit", s.maxBytes>>20), nil)
	}
	if len(data) == 0 {
		return 0, services.Wrap(services.ErrValidation, component, "put", "image is empty", nil)
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return 0, services.Wrap(services.ErrStorage, component, "put", key, err)
	}
	return int64(len(data)), nil
}

// Open streams key from the bucket.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, services.Wrap(services.ErrNotFound, component, "open", key, nil)
		}
		return nil, services.Wrap(services.ErrStorage, component, "open", key, err)
	}
	return out.Body, nil
}

// Delete removes key. S3 treats deleting a missing object as success.
func (s *S3) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}); err != nil {
		return services.Wrap(services.ErrStorage, component, "delete", key, err)
	}
	return nil
}

// Ping verifies the bucket is reachable with the configured credentials.
func (s *S3) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return services.Wrap(services.ErrStorage, component, "ping", s.bucket, err)
	}
	return nil
}
