// Package photos handles report photo intake: storage upload plus EXIF
// position extraction used to prefill the report coordinates.
package photos

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rwcarlsen/goexif/exif"

	"civicreport_backend/internal/adapters/storage"
	"civicreport_backend/platform/apperr"
	"civicreport_backend/platform/logger"
)

// UploadResult carries the opaque storage reference and, when the photo
// had usable EXIF data, the embedded GPS position.
type UploadResult struct {
	Ref       string
	Latitude  *float64
	Longitude *float64
}

type Service struct {
	store  storage.PhotoStore
	bucket string
	log    *logger.Logger
}

func New(store storage.PhotoStore, bucket string, log *logger.Logger) *Service {
	return &Service{store: store, bucket: bucket, log: log}
}

// Upload validates and stores one photo. The content is buffered so the
// EXIF scan and the storage write read the same bytes.
func (s *Service) Upload(ctx context.Context, contentType string, r io.Reader, size int64) (UploadResult, error) {
	if err := s.store.ValidateContentType(contentType); err != nil {
		return UploadResult{}, apperr.Validation(err.Error())
	}
	if err := s.store.ValidateFileSize(size); err != nil {
		return UploadResult{}, apperr.Validation(err.Error())
	}

	buf, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return UploadResult{}, fmt.Errorf("reading photo payload: %w", err)
	}

	result := UploadResult{}
	if lat, lon, ok := extractPosition(bytes.NewReader(buf)); ok {
		result.Latitude = &lat
		result.Longitude = &lon
	}

	ref, err := s.store.UploadPhoto(ctx, s.bucket, contentType, bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return UploadResult{}, fmt.Errorf("storing photo: %w", err)
	}
	result.Ref = ref

	return result, nil
}

// DownloadURL returns a short-lived link for viewing a stored photo.
func (s *Service) DownloadURL(ctx context.Context, ref string) (string, error) {
	presigned, err := s.store.GenerateDownloadURL(ctx, s.bucket, ref)
	if err != nil {
		return "", fmt.Errorf("presigning photo %s: %w", ref, err)
	}
	return presigned.URL, nil
}

// extractPosition reads the EXIF GPS tags. Photos without EXIF, or with a
// stripped GPS block, are common; that is not an error.
func extractPosition(r io.Reader) (lat, lon float64, ok bool) {
	x, err := exif.Decode(r)
	if err != nil {
		return 0, 0, false
	}
	lat, lon, err = x.LatLong()
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}
