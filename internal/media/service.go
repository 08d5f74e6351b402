// Package media stores vehicle inspection photos in S3-compatible
// object storage and hands out presigned URLs so the driver app
// uploads directly without routing image bytes through the API.
package media

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"wayfarer/api/internal/util"
)

const (
	uploadTTL   = 15 * time.Minute
	downloadTTL = 1 * time.Hour
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to object storage and ensures the photo bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// UploadURL issues a presigned PUT URL for a new inspection photo and
// returns the object key to record against the inspection.
func (s *Service) UploadURL(ctx context.Context, inspectionID, filename string) (key, url string, err error) {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		return "", "", fmt.Errorf("unsupported photo type %q", ext)
	}

	key = fmt.Sprintf("inspections/%s/%s%s", inspectionID, util.NewID(""), ext)
	presigned, err := s.client.PresignedPutObject(ctx, s.bucket, key, uploadTTL)
	if err != nil {
		return "", "", fmt.Errorf("presign upload: %w", err)
	}
	return key, presigned.String(), nil
}

// DownloadURL issues a presigned GET URL for a stored photo key.
func (s *Service) DownloadURL(ctx context.Context, key string) (string, error) {
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, downloadTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return presigned.String(), nil
}
