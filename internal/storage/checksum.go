package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
)

// checksumMetaKey is stored as x-amz-meta-sha256 on every uploaded object
const checksumMetaKey = "sha256"

// FileChecksum returns the hex SHA-256 of a local file
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RemoteChecksum returns the checksum recorded on an object. A missing
// object yields an empty checksum and no error.
func (s *Storage) RemoteChecksum(ctx context.Context, objectName string) (string, error) {
	info, err := s.client.StatObject(ctx, s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat object: %w", err)
	}
	return info.Metadata.Get("X-Amz-Meta-" + checksumMetaKey), nil
}

// unchanged reports whether objectName already holds the content of filePath
func (s *Storage) unchanged(ctx context.Context, objectName, checksum string) bool {
	remote, err := s.RemoteChecksum(ctx, objectName)
	if err != nil {
		s.logger.WithError(err).Debugf("Checksum lookup failed for %s, uploading", objectName)
		return false
	}
	return remote != "" && remote == checksum
}
