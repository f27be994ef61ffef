// Package storage provides S3-compatible object storage for report photos.
// Keys handed out here are opaque references; nothing outside this package
// derives meaning from them.
package storage

import (
	"context"
	"io"
	"time"
)

// PresignedURL contains the URL and metadata for a presigned download.
type PresignedURL struct {
	URL       string    `json:"url"`
	FileKey   string    `json:"fileKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PhotoStore is the storage surface the reports module depends on.
type PhotoStore interface {
	// UploadPhoto stores a photo and returns its opaque key.
	UploadPhoto(ctx context.Context, bucket, contentType string, reader io.Reader, size int64) (string, error)

	// DownloadPhoto streams a stored photo. The caller closes the reader.
	DownloadPhoto(ctx context.Context, bucket, fileKey string) (io.ReadCloser, error)

	// GenerateDownloadURL creates a short-lived presigned URL for a photo.
	GenerateDownloadURL(ctx context.Context, bucket, fileKey string) (*PresignedURL, error)

	// DeletePhoto removes a photo from storage.
	DeletePhoto(ctx context.Context, bucket, fileKey string) error

	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error

	// ValidateContentType checks that the content type is an accepted image type.
	ValidateContentType(contentType string) error

	// ValidateFileSize checks that the size is positive and within limits.
	ValidateFileSize(sizeBytes int64) error

	// GetMaxFileSize returns the configured maximum photo size in bytes.
	GetMaxFileSize() int64
}

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	IsMinIOEnabled() bool
}
