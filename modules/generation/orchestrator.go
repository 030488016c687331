package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/metrics"
)

// ErrOrchestratorNotConfigured - N8N_WEBHOOK_URL 미설정
var ErrOrchestratorNotConfigured = errors.New("N8N_WEBHOOK_URL not configured")

// BackgroundImage - 오케스트레이터 페이로드의 배경 이미지 항목
type BackgroundImage struct {
	URL   string `json:"url"`
	Index int    `json:"index"`
}

// DispatchRequest - 오케스트레이터 트리거 페이로드 (필드명은 n8n 워크플로와 고정 계약)
type DispatchRequest struct {
	GenerationID     string            `json:"generation_id"`
	Keywords         string            `json:"Keywords"`
	PortraitURL      string            `json:"portrait_url"`
	BackgroundImages []BackgroundImage `json:"Background Images"`
	SupabaseURL      string            `json:"supabase_url"`
	CallbackURL      string            `json:"callback_url,omitempty"`
}

// Dispatcher - 생성 요청을 외부 오케스트레이터에 전달
type Dispatcher interface {
	Dispatch(ctx context.Context, req *DispatchRequest) error
}

// OrchestratorClient - n8n webhook 트리거 클라이언트
type OrchestratorClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewOrchestratorClient - timeout은 트리거 요청 전체 제한
func NewOrchestratorClient(webhookURL string, timeout time.Duration) *OrchestratorClient {
	return &OrchestratorClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Dispatch - 2xx면 성공, 그 외 상태 코드나 네트워크 오류는 실패
func (c *OrchestratorClient) Dispatch(ctx context.Context, req *DispatchRequest) error {
	if c.webhookURL == "" {
		return ErrOrchestratorNotConfigured
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode trigger payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create trigger request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("n8n trigger failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("n8n trigger failed: %d - %s", resp.StatusCode, string(text))
	}

	log.Info().
		Str("generation_id", req.GenerationID).
		Int("backgrounds", len(req.BackgroundImages)).
		Dur("elapsed", time.Since(start)).
		Msg("🚀 [Generation] Orchestrator triggered")
	return nil
}
