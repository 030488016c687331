package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"thumbforge-server/modules/common/model"
)

// ErrNotFound - 조건에 맞는 행이 없음
var ErrNotFound = errors.New("record not found")

// ValidID - uuid 컬럼 값 형식 검사 (PostgREST는 형식 오류를 22P02로 거부)
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Store - 데이터 저장소 전체 계약 (Supabase / memstore 구현)
type Store interface {
	// Generations
	CountGenerationsSince(ctx context.Context, userID string, since time.Time) (int, error)
	CreateGeneration(ctx context.Context, g *model.Generation) (*model.Generation, error)
	GetGeneration(ctx context.Context, id string) (*model.Generation, error)
	UpdateGeneration(ctx context.Context, id string, update model.GenerationUpdate, allowedFrom []string) (*model.Generation, error)
	ListGenerations(ctx context.Context, userID string, limit int) ([]model.Generation, error)
	ListStaleGenerations(ctx context.Context, statuses []string, createdBefore time.Time) ([]model.Generation, error)

	// Thumbnails
	InsertThumbnail(ctx context.Context, t *model.Thumbnail) error
	UpsertThumbnail(ctx context.Context, t *model.Thumbnail) error
	ListThumbnails(ctx context.Context, generationID string) ([]model.Thumbnail, error)

	// Portraits
	GetPortrait(ctx context.Context, userID, portraitID string) (*model.Portrait, error)
	ListPortraits(ctx context.Context, userID string) ([]model.Portrait, error)
	CountPortraits(ctx context.Context, userID string) (int, error)
	CreatePortrait(ctx context.Context, p *model.Portrait) (*model.Portrait, error)
	DeletePortrait(ctx context.Context, userID, portraitID string) error
	SetActivePortrait(ctx context.Context, userID, portraitID string) error
	UpdatePortraitLabel(ctx context.Context, userID, portraitID, label string) error

	// Profiles
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	CreateProfile(ctx context.Context, p *model.Profile) (*model.Profile, error)
	UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.Profile, error)

	// Billing
	GetActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	UpsertProduct(ctx context.Context, p *model.Product) error
	UpsertPrice(ctx context.Context, p *model.Price) error
	UpsertSubscription(ctx context.Context, s *model.Subscription) error
	CancelSubscription(ctx context.Context, subscriptionID string, endedAt time.Time) error
	GetCustomer(ctx context.Context, userID string) (*model.Customer, error)
	GetUserIDByCustomer(ctx context.Context, stripeCustomerID string) (string, error)
	UpsertCustomer(ctx context.Context, c *model.Customer) error
}
