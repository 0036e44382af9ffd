package s3

import (
	"context"
	"errors"
	"testing"
	"time"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivefs/drivefs/internal/circuit"
	derrors "github.com/drivefs/drivefs/pkg/errors"
)

func testBackend() *Backend {
	return &Backend{config: &Config{Bucket: "test-bucket"}, logger: testLogEntry()}
}

func TestTranslateErrorClassification(t *testing.T) {
	b := testBackend()

	tests := []struct {
		name      string
		err       error
		errno     derrors.Errno
		category  derrors.ErrorCategory
		retryable bool
	}{
		{
			name:     "typed no such key",
			err:      &s3types.NoSuchKey{},
			errno:    derrors.ENOENT,
			category: derrors.CategoryNotFound,
		},
		{
			name:     "typed not found",
			err:      &s3types.NotFound{},
			errno:    derrors.ENOENT,
			category: derrors.CategoryNotFound,
		},
		{
			name:     "api error no such key",
			err:      &smithy.GenericAPIError{Code: "NoSuchKey", Message: "not there"},
			errno:    derrors.ENOENT,
			category: derrors.CategoryNotFound,
		},
		{
			name:     "access denied",
			err:      &smithy.GenericAPIError{Code: "AccessDenied", Message: "no"},
			errno:    derrors.EACCES,
			category: derrors.CategoryNotPermitted,
		},
		{
			name:      "throttling is retryable",
			err:       &smithy.GenericAPIError{Code: "SlowDown", Message: "slow down"},
			errno:     derrors.EIO,
			category:  derrors.CategoryBackend,
			retryable: true,
		},
		{
			name:      "internal error is retryable",
			err:       &smithy.GenericAPIError{Code: "InternalError", Message: "oops"},
			errno:     derrors.EIO,
			category:  derrors.CategoryBackend,
			retryable: true,
		},
		{
			name:     "canceled request",
			err:      context.Canceled,
			errno:    derrors.EINTR,
			category: derrors.CategoryBackend,
		},
		{
			name:      "deadline exceeded",
			err:       context.DeadlineExceeded,
			errno:     derrors.EIO,
			category:  derrors.CategoryBackend,
			retryable: true,
		},
		{
			name:      "unknown errors default to backend io",
			err:       errors.New("wire snapped"),
			errno:     derrors.EIO,
			category:  derrors.CategoryBackend,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.translateError(tt.err, "GetObject", "some/key")
			require.Error(t, got)

			var dfsErr *derrors.DriveFSError
			require.True(t, errors.As(got, &dfsErr), "every error leaving the backend is classified")
			assert.Equal(t, tt.errno, derrors.ErrnoOf(got))
			assert.Equal(t, tt.category, derrors.CategoryOf(got))
			assert.Equal(t, tt.retryable, derrors.IsRetryable(got))
			assert.ErrorIs(t, got, tt.err, "the SDK error stays reachable as the cause")
		})
	}
}

func TestTranslateErrorPassesThroughClassified(t *testing.T) {
	b := testBackend()

	original := derrors.ErrNotFound("/already/classified")
	got := b.translateError(original, "HeadObject", "k")
	assert.Same(t, original, got, "classified errors must not be rewrapped")

	assert.Nil(t, b.translateError(nil, "GetObject", "k"))
}

func TestTranslateErrorBucketMissing(t *testing.T) {
	b := testBackend()

	got := b.translateError(&s3types.NoSuchBucket{}, "HeadBucket", "")
	assert.False(t, derrors.IsRetryable(got), "a missing bucket never heals by retrying")
	assert.Contains(t, got.Error(), "test-bucket")
}

func TestDetectContentType(t *testing.T) {
	b := testBackend()

	tests := map[string]string{
		"doc.json":       "application/json",
		"feed.xml":       "application/xml",
		"page.html":      "text/html",
		"notes.txt":      "text/plain",
		"photo.jpg":      "image/jpeg",
		"photo.jpeg":     "image/jpeg",
		"chart.png":      "image/png",
		"paper.pdf":      "application/pdf",
		"binary.dat":     "application/octet-stream",
		"no-extension":   "application/octet-stream",
		"dir/nested.txt": "text/plain",
	}
	for key, want := range tests {
		assert.Equal(t, want, b.detectContentType(key), "key %s", key)
	}
}

func TestNewBackendRejectsEmptyBucket(t *testing.T) {
	_, err := NewBackend(context.Background(), &Config{}, circuit.Config{}, testLogEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, int64(4*1024*1024), cfg.BlockSize)
	assert.Equal(t, TierStandard, cfg.StorageTier)
	assert.True(t, cfg.EnableTransporter)

	// withDefaults fills gaps without clobbering explicit settings.
	custom := &Config{Bucket: "b", PoolSize: 2, StorageTier: TierGlacier}
	filled := custom.withDefaults()
	assert.Equal(t, 2, filled.PoolSize)
	assert.Equal(t, TierGlacier, filled.StorageTier)
	assert.Equal(t, int64(4*1024*1024), filled.BlockSize)
	assert.Equal(t, filled.PoolSize, filled.UploadConcurrency)
}

func TestMetricsRollingAverage(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordMetrics(100*time.Millisecond, false)
	m := mc.GetMetrics()
	assert.Equal(t, int64(1), m.Requests)
	assert.Equal(t, 100*time.Millisecond, m.AverageLatency, "first sample seeds the average")

	mc.RecordMetrics(200*time.Millisecond, false)
	m = mc.GetMetrics()
	assert.Equal(t, int64(2), m.Requests)
	assert.Greater(t, m.AverageLatency, 100*time.Millisecond)
	assert.Less(t, m.AverageLatency, 200*time.Millisecond)

	mc.RecordMetrics(time.Millisecond, true)
	mc.RecordError(errors.New("boom"))
	m = mc.GetMetrics()
	assert.Equal(t, int64(1), m.Errors)
	assert.Equal(t, "boom", m.LastError)
	assert.False(t, m.LastErrorTime.IsZero())

	assert.InDelta(t, 1.0/3.0, mc.GetErrorRate(), 0.001)

	mc.RecordBytesUploaded(2048)
	mc.RecordBytesDownloaded(4096)
	m = mc.GetMetrics()
	assert.Equal(t, int64(2048), m.BytesUploaded)
	assert.Equal(t, int64(4096), m.BytesDownloaded)

	mc.Reset()
	assert.Zero(t, mc.GetMetrics().Requests)
}
