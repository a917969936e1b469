// Package storage archives raw gateway notifications in S3-compatible object
// storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/infrastructure/config"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "webhooks/mercadopago"

// ObjectPutter is the slice of the S3 client the archive needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3WebhookArchive stores each notification body under
// <prefix>/YYYY/MM/DD/<unix-nanos>-<request id>.json.
type S3WebhookArchive struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3WebhookArchive builds the S3 client from configuration. Without static
// keys the default AWS credential chain applies.
func NewS3WebhookArchive(ctx context.Context, cfg *config.StorageConfig, logger *zap.Logger) (*S3WebhookArchive, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewS3WebhookArchiveWithClient(client, cfg.Bucket, cfg.KeyPrefix, logger), nil
}

// NewS3WebhookArchiveWithClient wraps an existing client
func NewS3WebhookArchiveWithClient(client ObjectPutter, bucket, prefix string, logger *zap.Logger) *S3WebhookArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &S3WebhookArchive{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// normalizeEndpoint adds a scheme to a bare host:port. Empty means AWS.
func normalizeEndpoint(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// ObjectKey returns the key a notification received at receivedAt is stored under
func (a *S3WebhookArchive) ObjectKey(requestID string, receivedAt time.Time) string {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	utc := receivedAt.UTC()
	return path.Join(a.prefix, utc.Format("2006/01/02"), fmt.Sprintf("%d-%s.json", utc.UnixNano(), sanitizeKeyPart(requestID)))
}

// Archive uploads the raw payload and returns its object key
func (a *S3WebhookArchive) Archive(ctx context.Context, requestID string, receivedAt time.Time, payload []byte) (string, error) {
	key := a.ObjectKey(requestID, receivedAt)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			"request-id":  requestID,
			"received-at": receivedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive webhook payload: %w", err)
	}
	return key, nil
}

// EnsureBucket creates the bucket when it does not exist yet
func (a *S3WebhookArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating webhook archive bucket", zap.String("bucket", a.bucket))
	if _, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)}); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
