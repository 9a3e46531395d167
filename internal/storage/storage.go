package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/artifact"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/config"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/metrics"
)

// DefaultURLExpiry is used when the config leaves the presign expiry unset
const DefaultURLExpiry = time.Hour

// Storage mirrors finished media into an object store bucket
type Storage struct {
	client     *minio.Client
	bucketName string
	urlExpiry  time.Duration
	logger     *logging.Logger
}

// New creates a new storage client and makes sure the bucket exists
func New(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
		urlExpiry:  expiry,
		logger:     logger,
	}, nil
}

// UploadFile uploads a local file and returns the number of bytes sent.
// Objects already holding the same content, by SHA-256, are left alone and
// report zero bytes.
func (s *Storage) UploadFile(ctx context.Context, objectName, filePath string) (int64, error) {
	checksum, err := FileChecksum(filePath)
	if err != nil {
		return 0, err
	}
	if s.unchanged(ctx, objectName, checksum) {
		s.logger.Debugf("Object %s is up to date", objectName)
		return 0, nil
	}

	start := time.Now()

	info, err := s.client.FPutObject(ctx, s.bucketName, objectName, filePath, minio.PutObjectOptions{
		ContentType:  ContentType(filePath),
		UserMetadata: map[string]string{checksumMetaKey: checksum},
	})

	duration := time.Since(start)
	metrics.RecordStorageOperation("upload", metrics.Status(err), duration.Seconds(), info.Size)
	s.logger.LogStorageOperation("upload", s.bucketName, objectName, info.Size, duration, err)

	if err != nil {
		return 0, fmt.Errorf("failed to upload file: %w", err)
	}
	return info.Size, nil
}

// Published describes a media file mirrored into the bucket
type Published struct {
	MediaKey   string
	SidecarKey string
	Size       int64
	URL        string
}

// PublishArtifact uploads mediaPath under prefix together with its sidecar,
// when one exists, and presigns a download URL for the media object.
func (s *Storage) PublishArtifact(ctx context.Context, prefix, mediaPath string) (*Published, error) {
	mediaKey := ObjectKey(prefix, mediaPath)

	size, err := s.UploadFile(ctx, mediaKey, mediaPath)
	if err != nil {
		return nil, err
	}
	published := &Published{MediaKey: mediaKey, Size: size}

	sidecar := artifact.SidecarPath(mediaPath)
	if _, statErr := os.Stat(sidecar); statErr == nil {
		published.SidecarKey = ObjectKey(prefix, sidecar)
		if _, err := s.UploadFile(ctx, published.SidecarKey, sidecar); err != nil {
			return nil, err
		}
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat sidecar: %w", statErr)
	}

	published.URL, err = s.GetURL(ctx, mediaKey)
	if err != nil {
		return nil, err
	}
	return published, nil
}

// GetURL returns a presigned URL for an object
func (s *Storage) GetURL(ctx context.Context, objectName string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, s.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return url.String(), nil
}

// Delete deletes an object from storage
func (s *Storage) Delete(ctx context.Context, objectName string) error {
	start := time.Now()
	err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	metrics.RecordStorageOperation("delete", metrics.Status(err), time.Since(start).Seconds(), 0)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// ObjectKey builds prefix/<base name>, using forward slashes on every OS
func ObjectKey(prefix, filePath string) string {
	name := filepath.Base(filePath)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// ContentType returns the content type based on file extension
func ContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
