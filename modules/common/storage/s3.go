package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/config"
)

// S3Store - S3 호환 스토리지 (MinIO, R2 등)
type S3Store struct {
	client        *minio.Client
	region        string
	publicBaseURL string
	uploadExpiry  time.Duration
}

// NewS3Store - minio 클라이언트 기반 스토어 생성
func NewS3Store(cfg *config.Config) (*S3Store, error) {
	endpoint := cfg.S3Endpoint
	useSSL := cfg.S3UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: useSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	publicBase := strings.TrimRight(cfg.S3PublicBaseURL, "/")
	if publicBase == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	log.Info().Str("endpoint", endpoint).Bool("ssl", useSSL).Msg("🪣 [Storage] S3 backend ready")

	return &S3Store{
		client:        client,
		region:        cfg.S3Region,
		publicBaseURL: publicBase,
		uploadExpiry:  cfg.UploadURLExpiry,
	}, nil
}

// EnsureBuckets - 버킷이 없으면 생성
func (s *S3Store) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, bucket := range buckets {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("bucket exists %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func (s *S3Store) CreateUploadSlot(ctx context.Context, bucket, path string) (string, error) {
	signed, err := s.client.PresignedPutObject(ctx, bucket, path, s.uploadExpiry)
	if err != nil {
		return "", fmt.Errorf("presign put %s/%s: %w", bucket, path, err)
	}
	return signed.String(), nil
}

// Upload - S3 PUT은 항상 덮어쓰기
func (s *S3Store) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, path, err)
	}
	return nil
}

func (s *S3Store) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, bucket, escapePath(path))
}

func (s *S3Store) Remove(ctx context.Context, bucket string, paths ...string) error {
	for _, path := range paths {
		if err := s.client.RemoveObject(ctx, bucket, path, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %s/%s: %w", bucket, path, err)
		}
	}
	return nil
}
