// Package storage hands out pre-signed URLs for custom queue thumbnails
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/config"
	"gitlab.com/secp/services/syncroom/internal/logger"
	"gitlab.com/secp/services/syncroom/internal/models"
)

// RefPrefix marks a thumbnail value that points into the bucket rather than
// at an external URL
const RefPrefix = "storage:"

const (
	uploadTTL   = 15 * time.Minute
	downloadTTL = time.Hour
)

var (
	ErrInvalidFile = errors.New("invalid thumbnail file")
	ErrNotStored   = errors.New("thumbnail is not a storage reference")
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type Service struct {
	client       *minio.Client
	bucketName   string
	bucketRegion string
	log          *zap.Logger
}

// NewService creates the storage client. It makes no network calls; call
// EnsureBucket once at startup.
func NewService(cfg config.S3, log *zap.Logger) (*Service, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "localhost:9000" // Default MinIO local
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create S3 client")
	}

	return &Service{
		client:       client,
		bucketName:   cfg.Bucket,
		bucketRegion: cfg.Region,
		log:          logger.OrNop(log).Named("storage"),
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return errors.Wrap(err, "failed to check bucket")
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{
			Region: s.bucketRegion,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create bucket")
		}
		s.log.Info("Created bucket", zap.String("bucket", s.bucketName))
	}

	return nil
}

// UploadURL generates a pre-signed PUT URL for a room thumbnail. The returned
// ThumbnailRef is what clients pass as a queue item's thumbnail.
func (s *Service) UploadURL(ctx context.Context, roomID uuid.UUID, req models.UploadRequest) (*models.UploadResponse, error) {
	ext, ok := allowedTypes[strings.ToLower(req.MimeType)]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidFile, "unsupported type %q", req.MimeType)
	}
	if fileExt := strings.ToLower(filepath.Ext(req.FileName)); fileExt != "" {
		ext = fileExt
	}

	storageKey := fmt.Sprintf("rooms/%s/%s%s", roomID, uuid.New(), ext)

	presignedURL, err := s.client.PresignedPutObject(ctx, s.bucketName, storageKey, uploadTTL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate upload URL")
	}

	return &models.UploadResponse{
		UploadURL:    presignedURL.String(),
		ThumbnailRef: RefPrefix + storageKey,
		ExpiresAt:    time.Now().Add(uploadTTL),
	}, nil
}

// ResolveThumbnail turns a storage reference into a pre-signed GET URL.
// Any other value is returned unchanged.
func (s *Service) ResolveThumbnail(ctx context.Context, thumbnail string) (string, error) {
	key, ok := strings.CutPrefix(thumbnail, RefPrefix)
	if !ok {
		return thumbnail, nil
	}
	if key == "" {
		return "", ErrNotStored
	}

	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucketName, key, downloadTTL, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate download URL")
	}
	return presignedURL.String(), nil
}

// ResolveItems rewrites storage references of items in place. Failures keep
// the raw reference so a broken thumbnail never hides the queue.
func (s *Service) ResolveItems(ctx context.Context, items []*models.QueueItem) {
	if s == nil {
		return
	}
	for _, item := range items {
		if !strings.HasPrefix(item.Thumbnail, RefPrefix) {
			continue
		}
		url, err := s.ResolveThumbnail(ctx, item.Thumbnail)
		if err != nil {
			s.log.Warn("Failed to resolve thumbnail", zap.String("item", item.ID.String()), zap.Error(err))
			continue
		}
		item.Thumbnail = url
	}
}

// DeleteRoom removes every thumbnail uploaded for a room
func (s *Service) DeleteRoom(ctx context.Context, roomID uuid.UUID) error {
	objects := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    fmt.Sprintf("rooms/%s/", roomID),
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return errors.Wrap(obj.Err, "failed to list thumbnails")
		}
		if err := s.client.RemoveObject(ctx, s.bucketName, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return errors.Wrap(err, "failed to delete thumbnail")
		}
	}
	return nil
}
