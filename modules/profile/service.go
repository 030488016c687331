package profile

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/model"
)

// Service - 유저 프로필 / 온보딩 상태
type Service struct {
	store database.Store
}

func NewService(store database.Store) *Service {
	return &Service{store: store}
}

// Get - 프로필 조회. 행이 없으면 토큰 email로 생성
func (s *Service) Get(ctx context.Context, user *auth.User) (*model.Profile, error) {
	p, err := s.store.GetProfile(ctx, user.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Internal("Failed to load profile", err)
	}

	p, err = s.store.CreateProfile(ctx, &model.Profile{ID: user.ID, Email: user.Email})
	if err != nil {
		return nil, apperr.Internal("Failed to load profile", err)
	}
	log.Info().Str("user_id", user.ID).Msg("👤 [Profile] Created missing profile")
	return p, nil
}

// UpdateName - 앞뒤 공백 제거 후 1~100자
func (s *Service) UpdateName(ctx context.Context, user *auth.User, fullName string) (*model.Profile, error) {
	name := strings.TrimSpace(fullName)
	if n := utf8.RuneCountInString(name); n < 1 || n > MaxNameLength {
		return nil, apperr.Validation("Name must be between 1 and %d characters", MaxNameLength)
	}
	return s.update(ctx, user, model.ProfileUpdate{FullName: &name})
}

func (s *Service) CompleteOnboarding(ctx context.Context, user *auth.User) (*model.Profile, error) {
	return s.update(ctx, user, model.ProfileUpdate{OnboardingCompleted: model.BoolPtr(true)})
}

// UpdateAvatar - 빈 문자열은 아바타 제거
func (s *Service) UpdateAvatar(ctx context.Context, user *auth.User, avatarURL string) (*model.Profile, error) {
	avatarURL = strings.TrimSpace(avatarURL)
	if avatarURL != "" {
		u, err := url.Parse(avatarURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, apperr.Validation("Invalid avatar URL")
		}
	}
	return s.update(ctx, user, model.ProfileUpdate{AvatarURL: &avatarURL})
}

func (s *Service) update(ctx context.Context, user *auth.User, update model.ProfileUpdate) (*model.Profile, error) {
	// 트리거 누락 계정도 갱신 가능하도록 먼저 보장
	if _, err := s.Get(ctx, user); err != nil {
		return nil, err
	}

	p, err := s.store.UpdateProfile(ctx, user.ID, update)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("❌ [Profile] Update failed")
		return nil, apperr.Internal("Failed to update profile", err)
	}
	return p, nil
}
