package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/lojatextil/erp/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type capturedPut struct {
	method      string
	path        string
	contentType string
	body        string
}

// fakeS3 accepts path-style PUTs and records them
func fakeS3(t *testing.T) (*httptest.Server, func() []capturedPut) {
	t.Helper()
	var mu sync.Mutex
	var puts []capturedPut
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, capturedPut{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedPut {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedPut(nil), puts...)
	}
}

func newTestClient(endpoint string) *s3.Client {
	return s3.New(s3.Options{
		Region:                     "us-east-1",
		Credentials:                credentials.NewStaticCredentialsProvider("key", "secret", ""),
		BaseEndpoint:               aws.String(endpoint),
		UsePathStyle:               true,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	})
}

func TestS3WebhookArchive_ObjectKey(t *testing.T) {
	archive := NewS3WebhookArchiveWithClient(nil, "bucket", "/raw/mp/", nil)
	at := time.Date(2026, 3, 10, 23, 30, 0, 0, time.FixedZone("BRT", -3*3600))

	key := archive.ObjectKey("req/1 2", at)

	assert.True(t, strings.HasPrefix(key, "raw/mp/2026/03/11/"), key)
	assert.True(t, strings.HasSuffix(key, "-req_1_2.json"), key)

	generated := archive.ObjectKey("", at)
	assert.NotEqual(t, key, generated)
}

func TestS3WebhookArchive_DefaultPrefix(t *testing.T) {
	archive := NewS3WebhookArchiveWithClient(nil, "bucket", "", nil)
	assert.True(t, strings.HasPrefix(archive.ObjectKey("r", time.Now()), "webhooks/mercadopago/"))
}

func TestS3WebhookArchive_Archive(t *testing.T) {
	srv, puts := fakeS3(t)
	archive := NewS3WebhookArchiveWithClient(newTestClient(srv.URL), "erp-webhooks", "", nil)
	payload := `{"type":"payment","action":"payment.updated","data":{"id":"123"}}`

	key, err := archive.Archive(context.Background(), "req-1", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), []byte(payload))
	require.NoError(t, err)

	got := puts()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPut, got[0].method)
	assert.Equal(t, "/erp-webhooks/"+key, got[0].path)
	assert.Equal(t, "application/json", got[0].contentType)
	assert.Equal(t, payload, got[0].body)
}

func TestS3WebhookArchive_ArchiveError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	}))
	defer srv.Close()
	archive := NewS3WebhookArchiveWithClient(newTestClient(srv.URL), "erp-webhooks", "", nil)

	_, err := archive.Archive(context.Background(), "req-1", time.Now(), []byte("{}"))

	assert.ErrorContains(t, err, "failed to archive webhook payload")
}

type mockPutter struct {
	mock.Mock
}

func (m *mockPutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockPutter) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.HeadBucketOutput)
	return out, args.Error(1)
}

func (m *mockPutter) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.CreateBucketOutput)
	return out, args.Error(1)
}

func TestS3WebhookArchive_EnsureBucket(t *testing.T) {
	ctx := context.Background()

	t.Run("existing bucket", func(t *testing.T) {
		m := new(mockPutter)
		m.On("HeadBucket", ctx, mock.Anything).Return(&s3.HeadBucketOutput{}, nil)
		require.NoError(t, NewS3WebhookArchiveWithClient(m, "b", "", nil).EnsureBucket(ctx))
		m.AssertNotCalled(t, "CreateBucket", mock.Anything, mock.Anything)
	})

	t.Run("missing bucket is created", func(t *testing.T) {
		m := new(mockPutter)
		m.On("HeadBucket", ctx, mock.Anything).Return(nil, &types.NotFound{})
		m.On("CreateBucket", ctx, mock.Anything).Return(&s3.CreateBucketOutput{}, nil)
		require.NoError(t, NewS3WebhookArchiveWithClient(m, "b", "", nil).EnsureBucket(ctx))
		m.AssertExpectations(t)
	})

	t.Run("race on creation is fine", func(t *testing.T) {
		m := new(mockPutter)
		m.On("HeadBucket", ctx, mock.Anything).Return(nil, &types.NoSuchBucket{})
		m.On("CreateBucket", ctx, mock.Anything).Return(nil, &types.BucketAlreadyOwnedByYou{})
		require.NoError(t, NewS3WebhookArchiveWithClient(m, "b", "", nil).EnsureBucket(ctx))
	})

	t.Run("other errors surface", func(t *testing.T) {
		m := new(mockPutter)
		m.On("HeadBucket", ctx, mock.Anything).Return(nil, errors.New("connection refused"))
		assert.ErrorContains(t, NewS3WebhookArchiveWithClient(m, "b", "", nil).EnsureBucket(ctx), "failed to check bucket")
	})
}

func TestNewS3WebhookArchive(t *testing.T) {
	_, err := NewS3WebhookArchive(context.Background(), &config.StorageConfig{}, nil)
	assert.ErrorContains(t, err, "bucket is required")

	archive, err := NewS3WebhookArchive(context.Background(), &config.StorageConfig{
		Endpoint:     "localhost:9000",
		Bucket:       "erp-webhooks",
		AccessKey:    "minio",
		SecretKey:    "minio123",
		UsePathStyle: true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "erp-webhooks", archive.bucket)
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "", normalizeEndpoint("", true))
	assert.Equal(t, "http://minio:9000", normalizeEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normalizeEndpoint("minio:9000", true))
	assert.Equal(t, "http://x", normalizeEndpoint("http://x", true))
}
