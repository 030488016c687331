package generation

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/lifecycle"
	"thumbforge-server/modules/common/metrics"
	"thumbforge-server/modules/common/model"
	"thumbforge-server/modules/common/storage"
	"thumbforge-server/modules/quota"
	"thumbforge-server/modules/status"
)

const (
	minKeywords  = 3
	maxKeywords  = 500
	defaultLimit = 50
)

// QuotaResolver - 생성 전 한도 재확인
type QuotaResolver interface {
	IsUnlimited(user *auth.User) bool
	Resolve(ctx context.Context, user *auth.User) (*quota.Quota, error)
}

// Options - 코디네이터 설정값
type Options struct {
	BackgroundBucket string
	SupabaseURL      string
	CallbackURL      string
	DispatchTimeout  time.Duration
}

// Service - Generation Request Coordinator
type Service struct {
	store      database.Store
	quota      QuotaResolver
	objects    storage.ObjectStore
	dispatcher Dispatcher
	publisher  status.Publisher
	opts       Options
	now        func() time.Time
}

func NewService(store database.Store, quota QuotaResolver, objects storage.ObjectStore, dispatcher Dispatcher, publisher status.Publisher, opts Options) *Service {
	return &Service{
		store:      store,
		quota:      quota,
		objects:    objects,
		dispatcher: dispatcher,
		publisher:  publisher,
		opts:       opts,
		now:        time.Now,
	}
}

// SetClock - 테스트용
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// validate - 입력 검증 (상태 변경 없음)
func validate(req *CreateRequest) error {
	if _, err := uuid.Parse(req.PortraitID); err != nil {
		return apperr.Validation("Invalid portrait ID")
	}
	length := utf8.RuneCountInString(req.Keywords)
	if length < minKeywords {
		return apperr.Validation("Keywords must be at least %d characters", minKeywords)
	}
	if length > maxKeywords {
		return apperr.Validation("Keywords too long")
	}
	if len(req.BackgroundPaths) > model.MaxBackgrounds {
		return apperr.Validation("Maximum %d background images allowed", model.MaxBackgrounds)
	}
	for _, path := range req.BackgroundPaths {
		if path == "" {
			return apperr.Validation("Invalid background path")
		}
	}
	return nil
}

// CreateGeneration - 검증 → 한도 → portrait 확인 → pending 저장 → dispatch → processing/failed
func (s *Service) CreateGeneration(ctx context.Context, user *auth.User, req *CreateRequest) (string, error) {
	if err := validate(req); err != nil {
		metrics.GenerationsCreated.WithLabelValues("rejected").Inc()
		return "", err
	}

	if !s.quota.IsUnlimited(user) {
		q, err := s.quota.Resolve(ctx, user)
		if err != nil {
			log.Error().Err(err).Str("user_id", user.ID).Msg("❌ [Generation] Quota check failed")
			return "", apperr.Internal("Failed to check quota", err)
		}
		if q.Exceeded() {
			metrics.GenerationsCreated.WithLabelValues("rejected").Inc()
			log.Info().Str("user_id", user.ID).Int("used", q.Used).Int("limit", *q.Limit).Msg("🚫 [Generation] Quota exceeded")
			return "", apperr.QuotaExceeded(*q.Limit,
				fmt.Sprintf("Monthly limit reached (%d generations). Upgrade to continue.", *q.Limit))
		}
	}

	portrait, err := s.store.GetPortrait(ctx, user.ID, req.PortraitID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", apperr.NotFound("Portrait not found")
		}
		return "", apperr.Internal("Failed to load portrait", err)
	}

	backgrounds := make([]BackgroundImage, len(req.BackgroundPaths))
	for i, path := range req.BackgroundPaths {
		backgrounds[i] = BackgroundImage{URL: s.objects.PublicURL(s.opts.BackgroundBucket, path), Index: i}
	}

	portraitID := portrait.ID
	gen, err := s.store.CreateGeneration(ctx, &model.Generation{
		UserID:          user.ID,
		PortraitID:      &portraitID,
		PortraitURL:     portrait.PublicURL,
		Keywords:        req.Keywords,
		BackgroundCount: len(req.BackgroundPaths),
		Status:          model.StatusPending,
		Progress:        0,
		CurrentStep:     model.StringPtr(model.StepQueued),
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("❌ [Generation] Failed to create generation")
		return "", apperr.Internal("Failed to create generation", err)
	}
	s.publish(ctx, gen)

	log.Info().
		Str("generation_id", gen.ID).
		Str("user_id", user.ID).
		Int("backgrounds", len(backgrounds)).
		Msg("📝 [Generation] Created pending generation")

	dispatchCtx := ctx
	if s.opts.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, s.opts.DispatchTimeout)
		defer cancel()
	}

	dispatchErr := s.dispatcher.Dispatch(dispatchCtx, &DispatchRequest{
		GenerationID:     gen.ID,
		Keywords:         req.Keywords,
		PortraitURL:      portrait.PublicURL,
		BackgroundImages: backgrounds,
		SupabaseURL:      s.opts.SupabaseURL,
		CallbackURL:      s.opts.CallbackURL,
	})

	// 요청이 취소되어도 상태 기록은 남겨야 함
	writeCtx := context.WithoutCancel(ctx)

	if dispatchErr != nil {
		metrics.GenerationsCreated.WithLabelValues("dispatch_failed").Inc()
		log.Error().Err(dispatchErr).Str("generation_id", gen.ID).Msg("❌ [Generation] Dispatch failed")

		now := s.now()
		updated, err := s.store.UpdateGeneration(writeCtx, gen.ID, model.GenerationUpdate{
			Status:       model.StringPtr(model.StatusFailed),
			ErrorMessage: model.StringPtr(dispatchErr.Error()),
			Progress:     model.IntPtr(100),
			CompletedAt:  &now,
		}, []string{model.StatusPending})
		s.afterTransition(writeCtx, gen.ID, updated, err)
		if err == nil {
			metrics.GenerationsFinalized.WithLabelValues(model.StatusFailed).Inc()
		}

		return "", apperr.Internal("Failed to start thumbnail generation. Please try again.", dispatchErr)
	}

	now := s.now()
	updated, err := s.store.UpdateGeneration(writeCtx, gen.ID, model.GenerationUpdate{
		Status:      model.StringPtr(model.StatusProcessing),
		CurrentStep: model.StringPtr(model.StepStarting),
		StartedAt:   &now,
	}, lifecycle.AllowedFrom(model.StatusProcessing))
	s.afterTransition(writeCtx, gen.ID, updated, err)

	metrics.GenerationsCreated.WithLabelValues("accepted").Inc()
	return gen.ID, nil
}

// afterTransition - 조건부 업데이트 결과 처리
// ErrNotFound는 이미 콜백이 먼저 종료시킨 경우라 무시
func (s *Service) afterTransition(ctx context.Context, generationID string, updated *model.Generation, err error) {
	switch {
	case err == nil:
		s.publish(ctx, updated)
	case errors.Is(err, database.ErrNotFound):
		log.Info().Str("generation_id", generationID).Msg("ℹ️  [Generation] Row already left pending, skipping transition")
	default:
		log.Error().Err(err).Str("generation_id", generationID).Msg("❌ [Generation] Failed to update status")
	}
}

func (s *Service) publish(ctx context.Context, g *model.Generation) {
	if s.publisher == nil || g == nil {
		return
	}
	if err := s.publisher.Publish(ctx, g); err != nil {
		log.Warn().Err(err).Str("generation_id", g.ID).Msg("⚠️  [Generation] Failed to publish status")
	}
}

// List - 사용자 generation 목록 (최신순)
func (s *Service) List(ctx context.Context, user *auth.User, limit int) ([]model.Generation, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}
	gens, err := s.store.ListGenerations(ctx, user.ID, limit)
	if err != nil {
		return nil, apperr.Internal("Failed to load generations", err)
	}
	if gens == nil {
		gens = []model.Generation{}
	}
	return gens, nil
}

// Get - 소유한 generation과 썸네일, 남의 것은 not-found
func (s *Service) Get(ctx context.Context, user *auth.User, id string) (*Detail, error) {
	if !database.ValidID(id) {
		return nil, apperr.NotFound("Generation not found")
	}
	gen, err := s.store.GetGeneration(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("Generation not found")
		}
		return nil, apperr.Internal("Failed to load generation", err)
	}
	if gen.UserID != user.ID {
		return nil, apperr.NotFound("Generation not found")
	}

	thumbs, err := s.store.ListThumbnails(ctx, id)
	if err != nil {
		return nil, apperr.Internal("Failed to load thumbnails", err)
	}
	if thumbs == nil {
		thumbs = []model.Thumbnail{}
	}
	return &Detail{Generation: gen, Thumbnails: thumbs}, nil
}
