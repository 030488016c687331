package quota

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/admin"
	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/database"
)

// Service - Quota Resolver
type Service struct {
	store    database.Store
	admins   *admin.Checker
	plans    *PlanTable
	location *time.Location
	now      func() time.Time
}

// NewService - location은 무료 요금제 월 경계 계산 기준
func NewService(store database.Store, admins *admin.Checker, plans *PlanTable, location *time.Location) *Service {
	if location == nil {
		location = time.Local
	}
	return &Service{
		store:    store,
		admins:   admins,
		plans:    plans,
		location: location,
		now:      time.Now,
	}
}

// SetClock - 테스트용 시계 교체
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Plans - 요금제 테이블
func (s *Service) Plans() *PlanTable {
	return s.plans
}

// IsUnlimited - 관리자 판별 (생성 요청 경로와 공유)
func (s *Service) IsUnlimited(user *auth.User) bool {
	return s.admins.IsUnlimited(user)
}

// StartOfMonth - loc 기준 이번 달 1일 00:00
func StartOfMonth(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// Resolve - 사용자의 현재 기간 사용량과 한도 계산 (읽기 전용)
func (s *Service) Resolve(ctx context.Context, user *auth.User) (*Quota, error) {
	// 관리자는 조회 없이 무제한
	if s.admins.IsUnlimited(user) {
		return &Quota{IsAdmin: true, Plan: PlanUnlimited}, nil
	}

	sub, err := s.store.GetActiveSubscription(ctx, user.ID)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("❌ [Quota] Subscription lookup failed")
		return nil, apperr.Internal("Failed to get quota", err)
	}

	var (
		plan        Plan
		periodStart time.Time
		periodEnd   *time.Time
	)
	if sub != nil {
		plan = s.plans.ForPrice(sub.PriceID)
		periodStart = sub.CurrentPeriodStart
		end := sub.CurrentPeriodEnd
		periodEnd = &end
	} else {
		plan = s.plans.Get(PlanFree)
		periodStart = StartOfMonth(s.now(), s.location)
	}

	// 상한(periodEnd)은 적용하지 않음
	used, err := s.store.CountGenerationsSince(ctx, user.ID, periodStart)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("❌ [Quota] Generation count failed")
		return nil, apperr.Internal("Failed to get quota", err)
	}

	limit := plan.Limit
	return &Quota{
		Used:        used,
		Limit:       &limit,
		Plan:        plan.ID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}, nil
}
