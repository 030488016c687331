package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/lifecycle"
	"thumbforge-server/modules/common/metrics"
	"thumbforge-server/modules/common/model"
	"thumbforge-server/modules/common/storage"
	"thumbforge-server/modules/common/utils"
	"thumbforge-server/modules/status"
)

const (
	defaultFailureMessage  = "Generation failed"
	downloadFailureMessage = "Failed to download generated image"
	maxImageBytes          = 25 << 20
)

// Options - 수집 동작 설정
type Options struct {
	ThumbnailBucket string
	// UpsertItems - (generation_id, prompt_index, background_index) 기준 upsert
	UpsertItems     bool
	ConvertWebP     bool
	WebPQuality     float32
	DownloadTimeout time.Duration
}

// Ingestor - 콜백 수집 (서명 → 파싱 → 존재 확인 → 항목 처리 → 집계)
type Ingestor struct {
	store      database.Store
	objects    storage.ObjectStore
	publisher  status.Publisher
	verifier   *Verifier
	httpClient *http.Client
	opts       Options
	now        func() time.Time
}

func NewIngestor(store database.Store, objects storage.ObjectStore, publisher status.Publisher, verifier *Verifier, opts Options) *Ingestor {
	return &Ingestor{
		store:      store,
		objects:    objects,
		publisher:  publisher,
		verifier:   verifier,
		httpClient: &http.Client{},
		opts:       opts,
		now:        time.Now,
	}
}

// SetHTTPClient - 이미지 다운로드용 클라이언트 교체
func (i *Ingestor) SetHTTPClient(client *http.Client) {
	i.httpClient = client
}

// Ingest - 네 가지 조기 거부(서명, JSON, id 누락, 미존재)는 변경 전에 반환
func (i *Ingestor) Ingest(ctx context.Context, body []byte, signature string) (*Result, error) {
	if err := i.verifier.Verify(body, signature); err != nil {
		log.Warn().Err(err).Msg("🚫 [Callback] Signature rejected")
		return nil, apperr.Unauthorized("Invalid signature")
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperr.Validation("Invalid JSON payload")
	}
	if payload.GenerationID == "" {
		return nil, apperr.Validation("Missing generation_id")
	}

	if !database.ValidID(payload.GenerationID) {
		log.Warn().Str("generation_id", payload.GenerationID).Msg("⚠️  [Callback] Malformed generation_id")
		return nil, apperr.NotFound("Generation not found")
	}

	gen, err := i.store.GetGeneration(ctx, payload.GenerationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.Warn().Str("generation_id", payload.GenerationID).Msg("⚠️  [Callback] Generation not found")
			return nil, apperr.NotFound("Generation not found")
		}
		return nil, apperr.Internal("Failed to load generation", err)
	}

	if payload.Status != "" && !lifecycle.IsValid(payload.Status) {
		log.Warn().Str("generation_id", gen.ID).Str("status", payload.Status).Msg("⚠️  [Callback] Unknown status, treating as item results")
	}

	// 타임아웃은 잠정 실패, 늦게 도착한 결과로 복구
	if timedOut(gen) {
		log.Warn().Str("generation_id", gen.ID).Msg("⏰ [Callback] Late callback for timed-out generation, applying results")
		metrics.LateCallbacks.Inc()
	}

	if payload.Status == model.StatusFailed {
		return i.recordFailure(ctx, gen, payload.Error)
	}

	successCount, failCount := 0, 0
	for _, item := range payload.Thumbnails {
		if i.processItem(ctx, gen, item) {
			successCount++
		} else {
			failCount++
		}
	}

	finalStatus := lifecycle.Aggregate(successCount, failCount)
	now := i.now()
	update := model.GenerationUpdate{
		Status:         model.StringPtr(finalStatus),
		Progress:       model.IntPtr(100),
		ThumbnailCount: model.IntPtr(successCount),
		CompletedAt:    &now,
	}
	if failCount > 0 {
		update.ErrorMessage = model.StringPtr(fmt.Sprintf("%d thumbnail(s) failed to generate", failCount))
	} else {
		update.ClearError = true
	}

	// 재전송 시 마지막 전달이 집계를 덮어씀
	updated, err := i.store.UpdateGeneration(ctx, gen.ID, update, nil)
	if err != nil {
		log.Error().Err(err).Str("generation_id", gen.ID).Msg("❌ [Callback] Failed to finalize generation")
		return nil, apperr.Internal("Failed to update generation", err)
	}
	i.publish(ctx, updated)
	metrics.GenerationsFinalized.WithLabelValues(finalStatus).Inc()

	log.Info().
		Str("generation_id", gen.ID).
		Str("status", finalStatus).
		Int("success", successCount).
		Int("failed", failCount).
		Msg("✅ [Callback] Generation finalized")

	return &Result{
		GenerationID: gen.ID,
		Status:       finalStatus,
		SuccessCount: successCount,
		FailCount:    failCount,
		Message: fmt.Sprintf("Processed %d thumbnails (%d success, %d failed)",
			successCount+failCount, successCount, failCount),
	}, nil
}

// recordFailure - 오케스트레이터 전체 실패 보고
func (i *Ingestor) recordFailure(ctx context.Context, gen *model.Generation, reason string) (*Result, error) {
	if reason == "" {
		reason = defaultFailureMessage
	}
	now := i.now()
	updated, err := i.store.UpdateGeneration(ctx, gen.ID, model.GenerationUpdate{
		Status:       model.StringPtr(model.StatusFailed),
		ErrorMessage: model.StringPtr(reason),
		Progress:     model.IntPtr(100),
		CompletedAt:  &now,
	}, nil)
	if err != nil {
		log.Error().Err(err).Str("generation_id", gen.ID).Msg("❌ [Callback] Failed to record failure")
		return nil, apperr.Internal("Failed to update generation", err)
	}
	i.publish(ctx, updated)
	metrics.GenerationsFinalized.WithLabelValues(model.StatusFailed).Inc()

	log.Info().Str("generation_id", gen.ID).Str("reason", reason).Msg("❌ [Callback] Failure recorded")
	return &Result{GenerationID: gen.ID, Status: model.StatusFailed, Message: "Failure recorded"}, nil
}

// processItem - 한 항목 처리, 성공 여부 반환 (항목 실패는 배치를 중단하지 않음)
func (i *Ingestor) processItem(ctx context.Context, gen *model.Generation, item ItemPayload) bool {
	logger := log.With().
		Str("generation_id", gen.ID).
		Int("prompt_index", item.PromptIndex).
		Int("background_index", item.BackgroundIndex).
		Logger()

	if item.Status == model.ThumbnailFailed {
		reason := item.ErrorMessage
		if reason == "" {
			reason = defaultFailureMessage
		}
		i.saveFailed(ctx, gen.ID, item, reason)
		return false
	}

	data, err := i.download(ctx, item.ImageURL)
	if err != nil {
		logger.Warn().Err(err).Str("url", item.ImageURL).Msg("⚠️  [Callback] Image download failed")
		i.saveFailed(ctx, gen.ID, item, downloadFailureMessage)
		return false
	}

	ext, contentType := "jpg", "image/jpeg"
	if i.opts.ConvertWebP {
		converted, err := utils.ConvertToWebP(data, i.opts.WebPQuality)
		if err != nil {
			logger.Warn().Err(err).Msg("⚠️  [Callback] WebP conversion failed, storing original")
		} else {
			data, ext, contentType = converted, "webp", "image/webp"
		}
	}

	path := fmt.Sprintf("%s/%s/%d-%d.%s", gen.UserID, gen.ID, item.PromptIndex, item.BackgroundIndex, ext)
	if err := i.objects.Upload(ctx, i.opts.ThumbnailBucket, path, data, contentType); err != nil {
		logger.Error().Err(err).Msg("❌ [Callback] Failed to store thumbnail")
		i.saveFailed(ctx, gen.ID, item, fmt.Sprintf("Failed to store image: %v", err))
		return false
	}

	thumb := &model.Thumbnail{
		GenerationID:    gen.ID,
		StoragePath:     path,
		PublicURL:       i.objects.PublicURL(i.opts.ThumbnailBucket, path),
		Prompt:          item.Prompt,
		PromptIndex:     item.PromptIndex,
		BackgroundIndex: item.BackgroundIndex,
		KieTaskID:       item.KieTaskID,
		Status:          model.ThumbnailSuccess,
	}
	if err := i.save(ctx, thumb); err != nil {
		logger.Error().Err(err).Msg("❌ [Callback] Failed to save thumbnail row")
		metrics.ThumbnailsStored.WithLabelValues(model.ThumbnailFailed).Inc()
		return false
	}

	metrics.ThumbnailsStored.WithLabelValues(model.ThumbnailSuccess).Inc()
	logger.Debug().Str("path", path).Msg("🖼️  [Callback] Thumbnail stored")
	return true
}

// saveFailed - 빈 storage 필드로 실패 행 기록
func (i *Ingestor) saveFailed(ctx context.Context, generationID string, item ItemPayload, reason string) {
	metrics.ThumbnailsStored.WithLabelValues(model.ThumbnailFailed).Inc()
	err := i.save(ctx, &model.Thumbnail{
		GenerationID:    generationID,
		Prompt:          item.Prompt,
		PromptIndex:     item.PromptIndex,
		BackgroundIndex: item.BackgroundIndex,
		KieTaskID:       item.KieTaskID,
		Status:          model.ThumbnailFailed,
		ErrorMessage:    model.StringPtr(reason),
	})
	if err != nil {
		log.Error().Err(err).Str("generation_id", generationID).Msg("❌ [Callback] Failed to save failed thumbnail row")
	}
}

func (i *Ingestor) save(ctx context.Context, thumb *model.Thumbnail) error {
	if i.opts.UpsertItems {
		return i.store.UpsertThumbnail(ctx, thumb)
	}
	return i.store.InsertThumbnail(ctx, thumb)
}

// download - http(s) URL만 허용, 2xx 외에는 실패
func (i *Ingestor) download(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("unsupported image url %q", rawURL)
	}

	if i.opts.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.DownloadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}

func (i *Ingestor) publish(ctx context.Context, g *model.Generation) {
	if i.publisher == nil || g == nil {
		return
	}
	if err := i.publisher.Publish(ctx, g); err != nil {
		log.Warn().Err(err).Str("generation_id", g.ID).Msg("⚠️  [Callback] Failed to publish status")
	}
}

func timedOut(g *model.Generation) bool {
	return g.Status == model.StatusFailed && g.ErrorMessage != nil && *g.ErrorMessage == model.TimeoutMessage
}
