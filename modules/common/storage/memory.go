package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryStore - 로컬 개발 및 테스트용 ObjectStore
type MemoryStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string][]byte
	types   map[string]string

	// FailUploads / FailSlots - 설정 시 해당 호출이 이 에러로 실패
	FailUploads error
	FailSlots   error
}

// NewMemoryStore - baseURL은 공개/서명 URL 생성에 사용
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: baseURL,
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func key(bucket, path string) string { return bucket + "/" + path }

func (m *MemoryStore) CreateUploadSlot(ctx context.Context, bucket, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSlots != nil {
		return "", m.FailSlots
	}
	return fmt.Sprintf("%s/upload/sign/%s/%s?token=memory", m.baseURL, bucket, path), nil
}

func (m *MemoryStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUploads != nil {
		return m.FailUploads
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key(bucket, path)] = buf
	m.types[key(bucket, path)] = contentType
	return nil
}

func (m *MemoryStore) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/public/%s/%s", m.baseURL, bucket, path)
}

func (m *MemoryStore) Remove(ctx context.Context, bucket string, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, path := range paths {
		delete(m.objects, key(bucket, path))
		delete(m.types, key(bucket, path))
	}
	return nil
}

// Object - 저장된 오브젝트 조회
func (m *MemoryStore) Object(bucket, path string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key(bucket, path)]
	if !ok {
		return nil, "", errors.New("object not found")
	}
	return data, m.types[key(bucket, path)], nil
}

// Len - 저장된 오브젝트 수
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
