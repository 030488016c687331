package portrait

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/model"
	"thumbforge-server/modules/common/storage"
)

// Service - 유저 portrait 관리
type Service struct {
	store   database.Store
	objects storage.ObjectStore
	bucket  string
	now     func() time.Time
}

func NewService(store database.Store, objects storage.ObjectStore, bucket string) *Service {
	return &Service{store: store, objects: objects, bucket: bucket, now: time.Now}
}

// SetClock - 테스트용
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func validateID(portraitID string) error {
	if _, err := uuid.Parse(portraitID); err != nil {
		return apperr.Validation("Invalid portrait ID")
	}
	return nil
}

func validateLabel(label string) error {
	if utf8.RuneCountInString(label) > MaxLabelLength {
		return apperr.Validation("Label too long")
	}
	return nil
}

func (s *Service) List(ctx context.Context, user *auth.User) ([]model.Portrait, error) {
	portraits, err := s.store.ListPortraits(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal("Failed to load portraits", err)
	}
	if portraits == nil {
		portraits = []model.Portrait{}
	}
	return portraits, nil
}

// IssueUploadSlot - {userId}/{unixMillis}.jpg 경로의 서명 URL
func (s *Service) IssueUploadSlot(ctx context.Context, user *auth.User) (*UploadSlot, error) {
	path := fmt.Sprintf("%s/%d.jpg", user.ID, s.now().UnixMilli())
	signedURL, err := s.objects.CreateUploadSlot(ctx, s.bucket, path)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("❌ [Portrait] Failed to create upload URL")
		return nil, apperr.Internal("Failed to create upload URL", err)
	}
	return &UploadSlot{Path: path, SignedURL: signedURL}, nil
}

// Create - 업로드된 오브젝트를 portrait로 등록. 첫 portrait는 자동 활성화
func (s *Service) Create(ctx context.Context, user *auth.User, req *CreateRequest) (*model.Portrait, error) {
	path := strings.TrimSpace(req.StoragePath)
	if path == "" {
		return nil, apperr.Validation("Storage path required")
	}
	if !strings.HasPrefix(path, user.ID+"/") || strings.Contains(path, "..") {
		return nil, apperr.Validation("Storage path must be inside your upload folder")
	}
	if err := validateLabel(req.Label); err != nil {
		return nil, err
	}

	count, err := s.store.CountPortraits(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal("Failed to create portrait", err)
	}

	created, err := s.store.CreatePortrait(ctx, &model.Portrait{
		UserID:      user.ID,
		StoragePath: path,
		PublicURL:   s.objects.PublicURL(s.bucket, path),
		Label:       req.Label,
		IsActive:    count == 0,
	})
	if err != nil {
		return nil, apperr.Internal("Failed to create portrait", err)
	}

	log.Info().Str("user_id", user.ID).Str("portrait_id", created.ID).Bool("active", created.IsActive).Msg("🖼️  [Portrait] Created")
	return created, nil
}

func (s *Service) UpdateLabel(ctx context.Context, user *auth.User, portraitID, label string) error {
	if err := validateID(portraitID); err != nil {
		return err
	}
	if err := validateLabel(label); err != nil {
		return err
	}
	if err := s.store.UpdatePortraitLabel(ctx, user.ID, portraitID, label); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return apperr.NotFound("Portrait not found")
		}
		return apperr.Internal("Failed to update label", err)
	}
	return nil
}

// Activate - 하나만 활성 상태로 유지
func (s *Service) Activate(ctx context.Context, user *auth.User, portraitID string) error {
	if err := validateID(portraitID); err != nil {
		return err
	}
	if _, err := s.store.GetPortrait(ctx, user.ID, portraitID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return apperr.NotFound("Portrait not found")
		}
		return apperr.Internal("Failed to activate portrait", err)
	}
	if err := s.store.SetActivePortrait(ctx, user.ID, portraitID); err != nil {
		return apperr.Internal("Failed to activate portrait", err)
	}
	log.Info().Str("user_id", user.ID).Str("portrait_id", portraitID).Msg("⭐ [Portrait] Activated")
	return nil
}

// Delete - 마지막 portrait는 삭제 불가. 활성 portrait 삭제 시 가장 최근 것을 활성화
func (s *Service) Delete(ctx context.Context, user *auth.User, portraitID string) error {
	if err := validateID(portraitID); err != nil {
		return err
	}

	count, err := s.store.CountPortraits(ctx, user.ID)
	if err != nil {
		return apperr.Internal("Failed to delete portrait", err)
	}
	if count <= 1 {
		return apperr.Validation("Cannot delete your only portrait. Upload another first.")
	}

	p, err := s.store.GetPortrait(ctx, user.ID, portraitID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return apperr.NotFound("Portrait not found")
		}
		return apperr.Internal("Failed to delete portrait", err)
	}

	// 스토리지 삭제 실패는 로그만 남김
	if err := s.objects.Remove(ctx, s.bucket, p.StoragePath); err != nil {
		log.Warn().Err(err).Str("portrait_id", p.ID).Str("path", p.StoragePath).Msg("⚠️  [Portrait] Storage delete failed")
	}

	if err := s.store.DeletePortrait(ctx, user.ID, portraitID); err != nil {
		return apperr.Internal("Failed to delete portrait", err)
	}

	if p.IsActive {
		remaining, err := s.store.ListPortraits(ctx, user.ID)
		if err != nil {
			log.Error().Err(err).Str("user_id", user.ID).Msg("❌ [Portrait] Failed to load remaining portraits")
			return nil
		}
		if len(remaining) > 0 {
			if err := s.store.SetActivePortrait(ctx, user.ID, remaining[0].ID); err != nil {
				log.Error().Err(err).Str("user_id", user.ID).Msg("❌ [Portrait] Failed to promote portrait")
			}
		}
	}

	log.Info().Str("user_id", user.ID).Str("portrait_id", portraitID).Msg("🗑️  [Portrait] Deleted")
	return nil
}
