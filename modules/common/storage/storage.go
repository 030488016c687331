package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/config"
)

// ObjectStore - 버킷 기반 오브젝트 스토리지 계약 (Supabase Storage / S3 호환)
type ObjectStore interface {
	// CreateUploadSlot - 클라이언트가 직접 PUT 할 수 있는 서명 URL 발급
	CreateUploadSlot(ctx context.Context, bucket, path string) (string, error)
	// Upload - 덮어쓰기 허용 업로드
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	// PublicURL - 공개 URL (네트워크 호출 없음)
	PublicURL(bucket, path string) string
	Remove(ctx context.Context, bucket string, paths ...string) error
}

// New - 설정에 맞는 ObjectStore 생성
func New(cfg *config.Config) (ObjectStore, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		return NewS3Store(cfg)
	case config.StorageMemory:
		return NewMemoryStore(cfg.AppURL + "/storage"), nil
	default:
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, &http.Client{Timeout: 60 * time.Second}), nil
	}
}

// SupabaseStore - Supabase Storage REST API 클라이언트
type SupabaseStore struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewSupabaseStore - Supabase Storage 클라이언트 생성
func NewSupabaseStore(baseURL, serviceKey string, httpClient *http.Client) *SupabaseStore {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SupabaseStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: httpClient,
	}
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func (s *SupabaseStore) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("storage request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// CreateUploadSlot - POST /object/upload/sign/{bucket}/{path}
func (s *SupabaseStore) CreateUploadSlot(ctx context.Context, bucket, path string) (string, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/object/upload/sign/%s/%s", s.baseURL, bucket, escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("failed to create sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := s.do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create signed upload url for %s: %w", path, err)
	}

	var result struct {
		URL   string `json:"url"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse signed upload response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("signed upload response missing url for %s", path)
	}

	// url은 /object/upload/sign/... 형태의 상대 경로
	return s.baseURL + "/storage/v1" + result.URL, nil
}

// Upload - POST /object/{bucket}/{path} (x-upsert)
func (s *SupabaseStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, bucket, escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	if _, err := s.do(req); err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", bucket, path, err)
	}

	log.Debug().Str("bucket", bucket).Str("path", path).Int("bytes", len(data)).Msg("📤 [Storage] uploaded")
	return nil
}

// PublicURL - {SUPABASE_URL}/storage/v1/object/public/{bucket}/{path}
func (s *SupabaseStore) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, bucket, escapePath(path))
}

// Remove - DELETE /object/{bucket} with prefixes
func (s *SupabaseStore) Remove(ctx context.Context, bucket string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s", s.baseURL, bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create remove request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := s.do(req); err != nil {
		return fmt.Errorf("failed to remove objects from %s: %w", bucket, err)
	}
	return nil
}
