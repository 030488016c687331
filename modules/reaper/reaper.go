package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/lifecycle"
	"thumbforge-server/modules/common/metrics"
	"thumbforge-server/modules/common/model"
	"thumbforge-server/modules/status"
)

// TimeoutMessage - 타임아웃 처리된 generation의 에러 메시지
const TimeoutMessage = model.TimeoutMessage

// Reaper - 콜백이 오지 않은 generation을 failed로 정리
type Reaper struct {
	store      database.Store
	publisher  status.Publisher
	staleAfter time.Duration
	now        func() time.Time
}

func New(store database.Store, publisher status.Publisher, staleAfter time.Duration) *Reaper {
	return &Reaper{store: store, publisher: publisher, staleAfter: staleAfter, now: time.Now}
}

// SetClock - 테스트용
func (r *Reaper) SetClock(now func() time.Time) {
	r.now = now
}

// Sweep - staleAfter보다 오래된 pending/processing generation을 failed로 전환
// 조건부 업데이트라 그 사이 도착한 콜백 결과는 덮어쓰지 않음
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.staleAfter)

	stale, err := r.store.ListStaleGenerations(ctx, lifecycle.NonTerminal(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale generations: %w", err)
	}
	if len(stale) == 0 {
		log.Debug().Time("cutoff", cutoff).Msg("🧹 [Reaper] Nothing to sweep")
		return 0, nil
	}

	swept := 0
	for _, g := range stale {
		updated, err := r.store.UpdateGeneration(ctx, g.ID, model.GenerationUpdate{
			Status:       model.StringPtr(model.StatusFailed),
			Progress:     model.IntPtr(100),
			ErrorMessage: model.StringPtr(TimeoutMessage),
			CompletedAt:  model.TimePtr(now),
		}, lifecycle.AllowedFrom(model.StatusFailed))
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				// 그 사이 종료됨
				continue
			}
			log.Error().Err(err).Str("generation_id", g.ID).Msg("❌ [Reaper] Failed to mark generation as timed out")
			continue
		}

		swept++
		metrics.ReaperSwept.Inc()
		metrics.GenerationsFinalized.WithLabelValues(model.StatusFailed).Inc()
		log.Warn().
			Str("generation_id", g.ID).
			Str("previous_status", g.Status).
			Time("created_at", g.CreatedAt).
			Msg("⏰ [Reaper] Generation timed out")

		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, updated); err != nil {
				log.Warn().Err(err).Str("generation_id", g.ID).Msg("⚠️  [Reaper] Failed to publish status")
			}
		}
	}

	log.Info().Int("stale", len(stale)).Int("swept", swept).Msg("🧹 [Reaper] Sweep finished")
	return swept, nil
}
