package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
	log "github.com/sirupsen/logrus"

	"github.com/drivefs/drivefs/internal/circuit"
	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/types"
)

// Backend is the low-level S3 object API the drive is built on. Every call
// runs under the circuit breaker and the retry policy, and every error that
// leaves it is classified.
type Backend struct {
	config        *Config
	clients       *ClientManager
	breaker       *circuit.Breaker
	tierValidator *TierValidator
	metrics       *MetricsCollector
	logger        *log.Entry
}

// NewBackend creates an S3 backend. It builds the client pool and the
// CargoShip transporter but does not touch the bucket; call HealthCheck to
// verify connectivity.
func NewBackend(ctx context.Context, cfg *Config, circuitCfg circuit.Config, logger *log.Entry) (*Backend, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	cfg = cfg.withDefaults()
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithFields(log.Fields{"component": "s3-backend", "bucket": cfg.Bucket})

	clients, err := NewClientManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pool := clients.GetPool()
	pool.SetHealthCheckBucket(cfg.Bucket)
	if err := pool.Warmup(ctx, 0); err != nil {
		logger.WithError(err).Warn("connection pool warmup incomplete")
	}

	tierValidator := NewTierValidator(cfg.StorageTier, cfg.TierConstraints, logger)
	tierInfo := tierValidator.GetTierInfo()
	logger.WithFields(log.Fields{
		"tier":             tierValidator.Tier(),
		"tier_name":        tierInfo.Name,
		"min_object_size":  tierInfo.MinObjectSize,
		"deletion_embargo": tierInfo.DeletionEmbargo,
		"retrieval_cost":   tierInfo.RetrievalCost,
	}).Info("S3 storage tier configured")

	return &Backend{
		config:        cfg,
		clients:       clients,
		breaker:       circuit.New("s3:"+cfg.Bucket, circuitCfg),
		tierValidator: tierValidator,
		metrics:       NewMetricsCollector(),
		logger:        logger,
	}, nil
}

// do runs one backend operation under the breaker and the retry policy.
// The closure must return classified errors so RetryIf and the breaker's
// success test see categories, not raw SDK errors.
func (b *Backend) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := b.breaker.DoCtx(ctx, func(ctx context.Context) error {
		attempts := b.config.MaxRetries
		if attempts < 1 {
			attempts = 1
		}
		return retry.Do(
			func() error {
				attemptCtx := ctx
				if b.config.RequestTimeout > 0 {
					var cancel context.CancelFunc
					attemptCtx, cancel = context.WithTimeout(ctx, b.config.RequestTimeout)
					defer cancel()
				}
				return fn(attemptCtx)
			},
			retry.Context(ctx),
			retry.Attempts(uint(attempts)),
			retry.Delay(b.config.RetryBaseDelay),
			retry.MaxDelay(b.config.RetryMaxDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(derrors.IsRetryable),
		)
	})
	b.metrics.RecordMetrics(time.Since(start), err != nil)
	if err != nil {
		b.metrics.RecordError(err)
		b.logger.WithError(err).WithField("operation", op).Debug("S3 operation failed")
	}
	return err
}

// GetObject retrieves an object or a byte range of it. A zero size with a
// positive offset reads to the end of the object.
func (b *Backend) GetObject(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	var rangeHeader *string
	if offset > 0 || size > 0 {
		if size > 0 {
			rangeHeader = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
		} else {
			rangeHeader = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}

	var data []byte
	err := b.do(ctx, "GetObject", func(ctx context.Context) error {
		client := b.clients.GetPooledClient()
		if client == nil {
			return errNoClient(key)
		}
		defer b.clients.ReturnPooledClient(client)

		result, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(key),
			Range:  rangeHeader,
		})
		if err != nil {
			return b.translateError(err, "GetObject", key)
		}
		defer result.Body.Close()

		data, err = io.ReadAll(result.Body)
		if err != nil {
			return b.translateError(err, "GetObject", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.metrics.RecordBytesDownloaded(int64(len(data)))
	return data, nil
}

// PutObject stores an object with the given user metadata. Uploads go
// through the CargoShip transporter when it is enabled, falling back to a
// plain PutObject on transporter failure.
func (b *Backend) PutObject(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if err := b.tierValidator.ValidateWrite(key, int64(len(data))); err != nil {
		return derrors.NewError(derrors.ErrCodeNotPermitted, err.Error()).
			WithPath(key).
			WithRetryable(false)
	}

	contentType := b.detectContentType(key)
	storageClass := ConvertTierToStorageClass(b.config.StorageTier)

	err := b.do(ctx, "PutObject", func(ctx context.Context) error {
		if b.clients.IsTransporterEnabled() {
			archiveMeta := make(map[string]string, len(metadata)+1)
			for k, v := range metadata {
				archiveMeta[k] = v
			}
			archiveMeta["content-type"] = contentType

			archive := cargoships3.Archive{
				Key:          key,
				Reader:       bytes.NewReader(data),
				Size:         int64(len(data)),
				StorageClass: ConvertTierToCargoShipStorageClass(b.config.StorageTier),
				Metadata:     archiveMeta,
			}
			result, uploadErr := b.clients.GetTransporter().Upload(ctx, archive)
			if uploadErr == nil {
				b.logger.WithFields(log.Fields{
					"key":        key,
					"size":       len(data),
					"throughput": result.Throughput,
					"duration":   result.Duration,
				}).Debug("transporter upload completed")
				return nil
			}
			b.logger.WithError(uploadErr).WithField("key", key).
				Warn("transporter upload failed, falling back to plain PutObject")
		}

		client := b.clients.GetPooledClient()
		if client == nil {
			return errNoClient(key)
		}
		defer b.clients.ReturnPooledClient(client)

		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.config.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType),
			StorageClass:  storageClass,
			Metadata:      metadata,
		})
		if err != nil {
			return b.translateError(err, "PutObject", key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.metrics.RecordBytesUploaded(int64(len(data)))
	return nil
}

// DeleteObject removes an object. Deleting a missing object is a no-op,
// matching S3's idempotent delete semantics.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	// Tier embargo checks need the object's age; skip the extra HEAD when
	// the tier has no delete constraints.
	if b.tierValidator.HasDeleteConstraints() {
		info, err := b.HeadObject(ctx, key)
		if err != nil {
			if derrors.CategoryOf(err) == derrors.CategoryNotFound {
				return nil
			}
			return err
		}
		if err := b.tierValidator.ValidateDelete(key, time.Since(info.LastModified)); err != nil {
			return derrors.NewError(derrors.ErrCodeNotPermitted, err.Error()).
				WithPath(key).
				WithRetryable(false)
		}
	}

	return b.do(ctx, "DeleteObject", func(ctx context.Context) error {
		client := b.clients.GetPooledClient()
		if client == nil {
			return errNoClient(key)
		}
		defer b.clients.ReturnPooledClient(client)

		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return b.translateError(err, "DeleteObject", key)
		}
		return nil
	})
}

// HeadObject retrieves metadata about an object.
func (b *Backend) HeadObject(ctx context.Context, key string) (*types.ObjectInfo, error) {
	var info *types.ObjectInfo
	err := b.do(ctx, "HeadObject", func(ctx context.Context) error {
		client := b.clients.GetPooledClient()
		if client == nil {
			return errNoClient(key)
		}
		defer b.clients.ReturnPooledClient(client)

		result, err := client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return b.translateError(err, "HeadObject", key)
		}

		info = &types.ObjectInfo{
			Key:          key,
			Size:         aws.ToInt64(result.ContentLength),
			LastModified: aws.ToTime(result.LastModified),
			ETag:         aws.ToString(result.ETag),
			ContentType:  aws.ToString(result.ContentType),
			Metadata:     make(map[string]string, len(result.Metadata)),
		}
		for k, v := range result.Metadata {
			info.Metadata[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ListObjects lists objects under prefix, following continuation tokens
// until limit entries are collected (zero means no limit). With a delimiter
// it also returns the common prefixes, S3's notion of subdirectories.
func (b *Backend) ListObjects(ctx context.Context, prefix, delimiter string, limit int) ([]types.ObjectInfo, []string, error) {
	var (
		objects  []types.ObjectInfo
		prefixes []string
	)
	err := b.do(ctx, "ListObjects", func(ctx context.Context) error {
		client := b.clients.GetPooledClient()
		if client == nil {
			return errNoClient(prefix)
		}
		defer b.clients.ReturnPooledClient(client)

		// Restart clean on a retry attempt.
		objects = objects[:0]
		prefixes = prefixes[:0]
		seen := make(map[string]struct{})

		var continuation *string
		for {
			var maxKeys *int32
			if limit > 0 {
				remaining := limit - len(objects)
				if remaining <= 0 {
					return nil
				}
				if remaining > 1000 {
					remaining = 1000
				}
				maxKeys = aws.Int32(int32(remaining))
			}

			input := &s3.ListObjectsV2Input{
				Bucket:            aws.String(b.config.Bucket),
				Prefix:            aws.String(prefix),
				MaxKeys:           maxKeys,
				ContinuationToken: continuation,
			}
			if delimiter != "" {
				input.Delimiter = aws.String(delimiter)
			}

			result, err := client.ListObjectsV2(ctx, input)
			if err != nil {
				return b.translateError(err, "ListObjects", prefix)
			}

			for _, obj := range result.Contents {
				objects = append(objects, types.ObjectInfo{
					Key:          aws.ToString(obj.Key),
					Size:         aws.ToInt64(obj.Size),
					LastModified: aws.ToTime(obj.LastModified),
					ETag:         aws.ToString(obj.ETag),
					Metadata:     make(map[string]string),
				})
			}
			for _, cp := range result.CommonPrefixes {
				p := aws.ToString(cp.Prefix)
				if _, dup := seen[p]; !dup {
					seen[p] = struct{}{}
					prefixes = append(prefixes, p)
				}
			}

			if !aws.ToBool(result.IsTruncated) {
				return nil
			}
			continuation = result.NextContinuationToken
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return objects, prefixes, nil
}

// SetObjectMetadata rewrites an object's user metadata. S3 has no
// metadata-only update, so this issues a same-key CopyObject with a replace
// directive.
func (b *Backend) SetObjectMetadata(ctx context.Context, key string, metadata map[string]string) error {
	return b.do(ctx, "SetObjectMetadata", func(ctx context.Context) error {
		client := b.clients.GetPooledClient()
		if client == nil {
			return errNoClient(key)
		}
		defer b.clients.ReturnPooledClient(client)

		_, err := client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:            aws.String(b.config.Bucket),
			Key:               aws.String(key),
			CopySource:        aws.String(url.PathEscape(b.config.Bucket + "/" + key)),
			Metadata:          metadata,
			MetadataDirective: s3types.MetadataDirectiveReplace,
			ContentType:       aws.String(b.detectContentType(key)),
			StorageClass:      ConvertTierToStorageClass(b.config.StorageTier),
		})
		if err != nil {
			return b.translateError(err, "SetObjectMetadata", key)
		}
		return nil
	})
}

// HealthCheck verifies the backend can reach the bucket.
func (b *Backend) HealthCheck(ctx context.Context) error {
	return b.do(ctx, "HealthCheck", func(ctx context.Context) error {
		client := b.clients.GetPooledClient()
		if client == nil {
			return errNoClient(b.config.Bucket)
		}
		defer b.clients.ReturnPooledClient(client)

		_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(b.config.Bucket),
		})
		if err != nil {
			return b.translateError(err, "HealthCheck", b.config.Bucket)
		}
		return nil
	})
}

// GetMetrics returns current backend metrics
func (b *Backend) GetMetrics() BackendMetrics {
	return b.metrics.GetMetrics()
}

// PoolStats returns connection pool statistics
func (b *Backend) PoolStats() PoolStats {
	return b.clients.GetStats()
}

// Breaker exposes the circuit breaker for state reporting.
func (b *Backend) Breaker() *circuit.Breaker {
	return b.breaker
}

// TierInfo returns the active storage tier's constraints.
func (b *Backend) TierInfo() StorageTierInfo {
	return b.tierValidator.GetTierInfo()
}

// Close closes the backend and releases resources
func (b *Backend) Close() error {
	return b.clients.Close()
}

// Helper methods

func errNoClient(key string) error {
	return derrors.NewError(derrors.ErrCodeConnectionFailed, "no S3 client available from pool").
		WithPath(key)
}

func (b *Backend) translateError(err error, operation, key string) error {
	if err == nil {
		return nil
	}
	var dfsErr *derrors.DriveFSError
	if errors.As(err, &dfsErr) {
		return err
	}

	var noKey *s3types.NoSuchKey
	var noBucket *s3types.NoSuchBucket
	var notFound *s3types.NotFound
	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound):
		return derrors.ErrNotFound(key).WithOperation(operation).WithCause(err)
	case errors.As(err, &noBucket):
		return derrors.NewError(derrors.ErrCodeConnectionFailed, fmt.Sprintf("bucket not found: %s", b.config.Bucket)).
			WithOperation(operation).
			WithRetryable(false).
			WithCause(err)
	}

	if errors.Is(err, context.Canceled) {
		return derrors.NewError(derrors.ErrCodeConnectionTimeout, "request canceled").
			WithOperation(operation).
			WithPath(key).
			WithErrno(derrors.EINTR).
			WithRetryable(false).
			WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return derrors.NewError(derrors.ErrCodeConnectionTimeout, "request timed out").
			WithOperation(operation).
			WithPath(key).
			WithCause(err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return derrors.ErrNotFound(key).WithOperation(operation).WithCause(err)
		case "AccessDenied", "Forbidden":
			return derrors.NewError(derrors.ErrCodeNotPermitted, apiErr.ErrorMessage()).
				WithOperation(operation).
				WithPath(key).
				WithErrno(derrors.EACCES).
				WithRetryable(false).
				WithCause(err)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return derrors.NewError(derrors.ErrCodeBackendIO, apiErr.ErrorMessage()).
				WithOperation(operation).
				WithPath(key).
				WithRetryable(true).
				WithCause(err)
		}
	}

	return derrors.NewError(derrors.ErrCodeBackendIO, err.Error()).
		WithOperation(operation).
		WithPath(key).
		WithCause(err)
}

func (b *Backend) detectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".xml"):
		return "application/xml"
	case strings.HasSuffix(key, ".html"):
		return "text/html"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".pdf"):
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
