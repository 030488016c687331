package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler - cron 스케줄로 Sweep 실행
type Scheduler struct {
	cron     *cron.Cron
	reaper   *Reaper
	schedule string
	timeout  time.Duration
}

func NewScheduler(reaper *Reaper, schedule string) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		reaper:   reaper,
		schedule: schedule,
		timeout:  time.Minute,
	}
}

func (s *Scheduler) Start() error {
	// 이전 sweep이 끝나지 않았으면 건너뜀
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(s.run))
	if _, err := s.cron.AddJob(s.schedule, job); err != nil {
		return fmt.Errorf("invalid REAPER_SCHEDULE %q: %w", s.schedule, err)
	}
	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Msg("⏱️  [Reaper] Scheduler started")
	return nil
}

// Stop - 실행 중인 sweep이 끝날 때까지 대기 (ctx 만료 시 포기)
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("⚠️  [Reaper] Stop timed out while a sweep was running")
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.reaper.Sweep(ctx); err != nil {
		log.Error().Err(err).Msg("❌ [Reaper] Sweep failed")
	}
}
