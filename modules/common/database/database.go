package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"thumbforge-server/modules/common/config"
	"thumbforge-server/modules/common/model"
)

const (
	tableGenerations   = "generations"
	tableThumbnails    = "thumbnails"
	tablePortraits     = "portraits"
	tableSubscriptions = "subscriptions"
	tableProducts      = "products"
	tablePrices        = "prices"
	tableCustomers     = "customers"
	tableProfiles      = "profiles"

	thumbnailConflictKey = "generation_id,prompt_index,background_index"
)

// Client - Supabase(PostgREST) 기반 Store 구현
type Client struct {
	supabase *supabase.Client
}

var _ Store = (*Client)(nil)

// NewClient - Database 클라이언트 생성 (service role key 사용)
func NewClient(cfg *config.Config) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	log.Info().Msg("✅ Supabase client initialized")
	return &Client{supabase: supabaseClient}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ---------------------------------------------------------------------------
// Generations
// ---------------------------------------------------------------------------

// CountGenerationsSince - since 이후 생성된 generation 개수
func (c *Client) CountGenerationsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	_, count, err := c.supabase.From(tableGenerations).
		Select("id", "exact", true).
		Eq("user_id", userID).
		Gte("created_at", formatTime(since)).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("failed to count generations: %w", err)
	}
	return int(count), nil
}

// CreateGeneration - generation 레코드 생성
func (c *Client) CreateGeneration(ctx context.Context, g *model.Generation) (*model.Generation, error) {
	insertData := map[string]interface{}{
		"user_id":          g.UserID,
		"portrait_id":      g.PortraitID,
		"portrait_url":     g.PortraitURL,
		"keywords":         g.Keywords,
		"background_count": g.BackgroundCount,
		"status":           g.Status,
		"progress":         g.Progress,
		"current_step":     g.CurrentStep,
	}

	var rows []model.Generation
	_, err := c.supabase.From(tableGenerations).
		Insert(insertData, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to insert generation: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no generation record returned")
	}

	log.Debug().Str("generation_id", rows[0].ID).Msg("💾 Generation record created")
	return &rows[0], nil
}

// GetGeneration - id로 generation 조회
func (c *Client) GetGeneration(ctx context.Context, id string) (*model.Generation, error) {
	var rows []model.Generation
	_, err := c.supabase.From(tableGenerations).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// UpdateGeneration - generation 업데이트
// allowedFrom이 비어있지 않으면 현재 상태가 그 중 하나일 때만 반영 (조건 불일치 → ErrNotFound)
func (c *Client) UpdateGeneration(ctx context.Context, id string, update model.GenerationUpdate, allowedFrom []string) (*model.Generation, error) {
	query := c.supabase.From(tableGenerations).
		Update(update.ToMap(), "representation", "").
		Eq("id", id)
	if len(allowedFrom) > 0 {
		query = query.In("status", allowedFrom)
	}

	var rows []model.Generation
	if _, err := query.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to update generation: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ListGenerations - 유저의 generation 목록 (최신순)
func (c *Client) ListGenerations(ctx context.Context, userID string, limit int) ([]model.Generation, error) {
	var rows []model.Generation
	_, err := c.supabase.From(tableGenerations).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	return rows, nil
}

// ListStaleGenerations - createdBefore 이전에 생성되어 아직 statuses 상태인 generation
func (c *Client) ListStaleGenerations(ctx context.Context, statuses []string, createdBefore time.Time) ([]model.Generation, error) {
	var rows []model.Generation
	_, err := c.supabase.From(tableGenerations).
		Select("*", "", false).
		In("status", statuses).
		Lt("created_at", formatTime(createdBefore)).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale generations: %w", err)
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// Thumbnails
// ---------------------------------------------------------------------------

func thumbnailRow(t *model.Thumbnail) map[string]interface{} {
	return map[string]interface{}{
		"generation_id":    t.GenerationID,
		"storage_path":     t.StoragePath,
		"public_url":       t.PublicURL,
		"prompt":           t.Prompt,
		"prompt_index":     t.PromptIndex,
		"background_index": t.BackgroundIndex,
		"kie_task_id":      t.KieTaskID,
		"status":           t.Status,
		"error_message":    t.ErrorMessage,
	}
}

// InsertThumbnail - thumbnail 레코드 생성
func (c *Client) InsertThumbnail(ctx context.Context, t *model.Thumbnail) error {
	_, _, err := c.supabase.From(tableThumbnails).
		Insert(thumbnailRow(t), false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert thumbnail: %w", err)
	}
	return nil
}

// UpsertThumbnail - (generation_id, prompt_index, background_index) 기준 upsert
func (c *Client) UpsertThumbnail(ctx context.Context, t *model.Thumbnail) error {
	_, _, err := c.supabase.From(tableThumbnails).
		Upsert(thumbnailRow(t), thumbnailConflictKey, "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to upsert thumbnail: %w", err)
	}
	return nil
}

// ListThumbnails - generation의 썸네일 목록
func (c *Client) ListThumbnails(ctx context.Context, generationID string) ([]model.Thumbnail, error) {
	var rows []model.Thumbnail
	_, err := c.supabase.From(tableThumbnails).
		Select("*", "", false).
		Eq("generation_id", generationID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list thumbnails: %w", err)
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// Portraits
// ---------------------------------------------------------------------------

// GetPortrait - 유저 소유 portrait 조회
func (c *Client) GetPortrait(ctx context.Context, userID, portraitID string) (*model.Portrait, error) {
	var rows []model.Portrait
	_, err := c.supabase.From(tablePortraits).
		Select("*", "", false).
		Eq("id", portraitID).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query portrait: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ListPortraits - 유저 portrait 목록 (최신순)
func (c *Client) ListPortraits(ctx context.Context, userID string) ([]model.Portrait, error) {
	var rows []model.Portrait
	_, err := c.supabase.From(tablePortraits).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list portraits: %w", err)
	}
	return rows, nil
}

// CountPortraits - 유저 portrait 개수
func (c *Client) CountPortraits(ctx context.Context, userID string) (int, error) {
	_, count, err := c.supabase.From(tablePortraits).
		Select("id", "exact", true).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("failed to count portraits: %w", err)
	}
	return int(count), nil
}

// CreatePortrait - portrait 레코드 생성
func (c *Client) CreatePortrait(ctx context.Context, p *model.Portrait) (*model.Portrait, error) {
	insertData := map[string]interface{}{
		"user_id":      p.UserID,
		"storage_path": p.StoragePath,
		"public_url":   p.PublicURL,
		"label":        p.Label,
		"is_active":    p.IsActive,
	}

	var rows []model.Portrait
	_, err := c.supabase.From(tablePortraits).
		Insert(insertData, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to insert portrait: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no portrait record returned")
	}
	return &rows[0], nil
}

// DeletePortrait - portrait 삭제
func (c *Client) DeletePortrait(ctx context.Context, userID, portraitID string) error {
	_, _, err := c.supabase.From(tablePortraits).
		Delete("minimal", "").
		Eq("id", portraitID).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete portrait: %w", err)
	}
	return nil
}

// SetActivePortrait - 전체 비활성화 후 하나만 활성화
func (c *Client) SetActivePortrait(ctx context.Context, userID, portraitID string) error {
	_, _, err := c.supabase.From(tablePortraits).
		Update(map[string]interface{}{"is_active": false}, "minimal", "").
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to deactivate portraits: %w", err)
	}

	_, _, err = c.supabase.From(tablePortraits).
		Update(map[string]interface{}{"is_active": true}, "minimal", "").
		Eq("id", portraitID).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to activate portrait: %w", err)
	}
	return nil
}

// UpdatePortraitLabel - portrait 라벨 변경
func (c *Client) UpdatePortraitLabel(ctx context.Context, userID, portraitID, label string) error {
	var rows []model.Portrait
	_, err := c.supabase.From(tablePortraits).
		Update(map[string]interface{}{"label": label}, "representation", "").
		Eq("id", portraitID).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to update portrait label: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

// GetProfile - 프로필 조회
func (c *Client) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var rows []model.Profile
	_, err := c.supabase.From(tableProfiles).
		Select("*", "", false).
		Eq("id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// CreateProfile - 가입 트리거가 없던 계정용. 이미 있으면 email만 갱신
func (c *Client) CreateProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	row := map[string]interface{}{"id": p.ID, "email": p.Email}
	_, _, err := c.supabase.From(tableProfiles).
		Insert(row, true, "id", "minimal", "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return c.GetProfile(ctx, p.ID)
}

// UpdateProfile - 지정된 필드만 변경
func (c *Client) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.Profile, error) {
	var rows []model.Profile
	_, err := c.supabase.From(tableProfiles).
		Update(update.ToMap(time.Now()), "representation", "").
		Eq("id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ---------------------------------------------------------------------------
// Billing
// ---------------------------------------------------------------------------

// GetActiveSubscription - active/trialing 구독 조회 (없으면 nil, nil)
func (c *Client) GetActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	var rows []model.Subscription
	_, err := c.supabase.From(tableSubscriptions).
		Select("*", "", false).
		Eq("user_id", userID).
		In("status", []string{model.SubscriptionActive, model.SubscriptionTrialing}).
		Order("current_period_end", &postgrest.OrderOpts{Ascending: false}).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpsertProduct - products upsert (id 기준 전체 교체)
func (c *Client) UpsertProduct(ctx context.Context, p *model.Product) error {
	_, _, err := c.supabase.From(tableProducts).
		Upsert(p, "id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.ID, err)
	}
	return nil
}

// UpsertPrice - prices upsert (id 기준 전체 교체)
func (c *Client) UpsertPrice(ctx context.Context, p *model.Price) error {
	_, _, err := c.supabase.From(tablePrices).
		Upsert(p, "id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to upsert price %s: %w", p.ID, err)
	}
	return nil
}

// UpsertSubscription - subscriptions upsert (id 기준 전체 교체)
func (c *Client) UpsertSubscription(ctx context.Context, s *model.Subscription) error {
	row := map[string]interface{}{
		"id":                   s.ID,
		"user_id":              s.UserID,
		"status":               s.Status,
		"metadata":             s.Metadata,
		"price_id":             s.PriceID,
		"quantity":             s.Quantity,
		"cancel_at_period_end": s.CancelAtPeriodEnd,
		"current_period_start": formatTime(s.CurrentPeriodStart),
		"current_period_end":   formatTime(s.CurrentPeriodEnd),
		"ended_at":             optionalTime(s.EndedAt),
		"cancel_at":            optionalTime(s.CancelAt),
		"canceled_at":          optionalTime(s.CanceledAt),
		"trial_start":          optionalTime(s.TrialStart),
		"trial_end":            optionalTime(s.TrialEnd),
	}

	_, _, err := c.supabase.From(tableSubscriptions).
		Upsert(row, "id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to upsert subscription %s: %w", s.ID, err)
	}
	return nil
}

// CancelSubscription - 행은 남기고 canceled + ended_at 기록
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, endedAt time.Time) error {
	_, _, err := c.supabase.From(tableSubscriptions).
		Update(map[string]interface{}{
			"status":   model.SubscriptionCanceled,
			"ended_at": formatTime(endedAt),
		}, "minimal", "").
		Eq("id", subscriptionID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// GetCustomer - 유저의 Stripe 고객 매핑 (없으면 nil, nil)
func (c *Client) GetCustomer(ctx context.Context, userID string) (*model.Customer, error) {
	var rows []model.Customer
	_, err := c.supabase.From(tableCustomers).
		Select("*", "", false).
		Eq("id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query customer: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetUserIDByCustomer - Stripe 고객 ID로 유저 ID 역조회 (없으면 "")
func (c *Client) GetUserIDByCustomer(ctx context.Context, stripeCustomerID string) (string, error) {
	var rows []model.Customer
	_, err := c.supabase.From(tableCustomers).
		Select("id", "", false).
		Eq("stripe_customer_id", stripeCustomerID).
		ExecuteTo(&rows)
	if err != nil {
		return "", fmt.Errorf("failed to lookup customer: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].ID, nil
}

// UpsertCustomer - customers upsert
func (c *Client) UpsertCustomer(ctx context.Context, customer *model.Customer) error {
	_, _, err := c.supabase.From(tableCustomers).
		Upsert(customer, "id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

func optionalTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
