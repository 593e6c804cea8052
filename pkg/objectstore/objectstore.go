// Package objectstore is the Object Store Gateway: streamed
// put/get of raw commissioning-test documents, keyed by task id.
package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	appconfig "github.com/auditeng/compliance/internal/config"
	apperrors "github.com/auditeng/compliance/internal/errors"
)

// MaxObjectBytes is the upload size ceiling, enforced against the
// byte stream actually read, not merely the advertised content length.
const MaxObjectBytes = 50 * 1024 * 1024

// chunkSize bounds how much of the stream is buffered at once; the
// full payload is never held in memory.
const chunkSize = 64 * 1024

type Store struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// New builds a Store from Config.ObjectStore. A non-empty Endpoint
// selects an S3-compatible target (MinIO in development); an empty one
// uses the AWS default resolver for the configured region.
func New(ctx context.Context, cfg appconfig.ObjectStoreConfig, logger *zap.Logger) (*Store, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeExternal, "load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// limitedReader wraps r so that reading past MaxObjectBytes+1 fails the
// upload, even when size (the advertised length) under-reports it.
type limitedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if len(p) > chunkSize {
		p = p[:chunkSize]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		return n, apperrors.NewPayloadTooLarge(fmt.Sprintf("object exceeds %d byte limit", l.limit))
	}
	return n, err
}

// Put streams r to key under the configured bucket, rejecting the
// upload if more than MaxObjectBytes are actually read regardless of
// what size claims.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if size > MaxObjectBytes {
		return apperrors.NewPayloadTooLarge(fmt.Sprintf("advertised size %d exceeds %d byte limit", size, MaxObjectBytes))
	}
	lr := &limitedReader{r: r, limit: MaxObjectBytes}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   lr,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeExternal, "put object").WithDetailsf("key=%s", key)
	}
	return nil
}

// Get returns a streaming reader for key. Callers must Close it.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeExternal, "get object").WithDetailsf("key=%s", key)
	}
	return out.Body, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeExternal, "delete object").WithDetailsf("key=%s", key)
	}
	return nil
}

// Key renders the canonical object key: "{task_id}/{original_filename}".
func Key(taskID, originalFilename string) string {
	return taskID + "/" + originalFilename
}
