package model

import "time"

// Generation - generations 테이블 구조
type Generation struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	PortraitID      *string    `json:"portrait_id"`
	PortraitURL     string     `json:"portrait_url"`
	Keywords        string     `json:"keywords"`
	BackgroundCount int        `json:"background_count"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	CurrentStep     *string    `json:"current_step"`
	ThumbnailCount  int        `json:"thumbnail_count"`
	ErrorMessage    *string    `json:"error_message"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// GenerationUpdate - generations 부분 업데이트 (nil 필드는 변경하지 않음)
type GenerationUpdate struct {
	Status         *string
	Progress       *int
	CurrentStep    *string
	ThumbnailCount *int
	ErrorMessage   *string
	ClearError     bool
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// ToMap - PostgREST update 본문으로 변환
func (u GenerationUpdate) ToMap() map[string]interface{} {
	data := map[string]interface{}{}
	if u.Status != nil {
		data["status"] = *u.Status
	}
	if u.Progress != nil {
		data["progress"] = *u.Progress
	}
	if u.CurrentStep != nil {
		data["current_step"] = *u.CurrentStep
	}
	if u.ThumbnailCount != nil {
		data["thumbnail_count"] = *u.ThumbnailCount
	}
	if u.ErrorMessage != nil {
		data["error_message"] = *u.ErrorMessage
	} else if u.ClearError {
		data["error_message"] = nil
	}
	if u.StartedAt != nil {
		data["started_at"] = u.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if u.CompletedAt != nil {
		data["completed_at"] = u.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return data
}

// Apply - 메모리상의 Generation에 업데이트 적용
func (u GenerationUpdate) Apply(g *Generation) {
	if u.Status != nil {
		g.Status = *u.Status
	}
	if u.Progress != nil {
		g.Progress = *u.Progress
	}
	if u.CurrentStep != nil {
		step := *u.CurrentStep
		g.CurrentStep = &step
	}
	if u.ThumbnailCount != nil {
		g.ThumbnailCount = *u.ThumbnailCount
	}
	if u.ErrorMessage != nil {
		msg := *u.ErrorMessage
		g.ErrorMessage = &msg
	} else if u.ClearError {
		g.ErrorMessage = nil
	}
	if u.StartedAt != nil {
		started := *u.StartedAt
		g.StartedAt = &started
	}
	if u.CompletedAt != nil {
		completed := *u.CompletedAt
		g.CompletedAt = &completed
	}
}

// Thumbnail - thumbnails 테이블 구조
type Thumbnail struct {
	ID              string    `json:"id,omitempty"`
	GenerationID    string    `json:"generation_id"`
	StoragePath     string    `json:"storage_path"`
	PublicURL       string    `json:"public_url"`
	Prompt          string    `json:"prompt"`
	PromptIndex     int       `json:"prompt_index"`
	BackgroundIndex int       `json:"background_index"`
	KieTaskID       string    `json:"kie_task_id"`
	Status          string    `json:"status"`
	ErrorMessage    *string   `json:"error_message"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// Portrait - portraits 테이블 구조
type Portrait struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	StoragePath string    `json:"storage_path"`
	PublicURL   string    `json:"public_url"`
	Label       string    `json:"label"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile - profiles 테이블 (auth.users 1:1)
type Profile struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	FullName            *string   `json:"full_name"`
	AvatarURL           *string   `json:"avatar_url"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ProfileUpdate - nil 필드는 변경하지 않음
type ProfileUpdate struct {
	FullName            *string
	AvatarURL           *string
	OnboardingCompleted *bool
}

func (u ProfileUpdate) ToMap(now time.Time) map[string]interface{} {
	m := map[string]interface{}{"updated_at": now.UTC().Format(time.RFC3339Nano)}
	if u.FullName != nil {
		m["full_name"] = *u.FullName
	}
	if u.AvatarURL != nil {
		m["avatar_url"] = *u.AvatarURL
	}
	if u.OnboardingCompleted != nil {
		m["onboarding_completed"] = *u.OnboardingCompleted
	}
	return m
}

// Customer - customers 테이블 (로컬 유저 ↔ Stripe 고객)
type Customer struct {
	ID               string `json:"id"`
	StripeCustomerID string `json:"stripe_customer_id"`
}

// Product - products 테이블 (Stripe 미러)
type Product struct {
	ID          string            `json:"id"`
	Active      bool              `json:"active"`
	Name        string            `json:"name"`
	Description *string           `json:"description"`
	Image       *string           `json:"image"`
	Metadata    map[string]string `json:"metadata"`
}

// Price - prices 테이블 (Stripe 미러)
type Price struct {
	ID              string            `json:"id"`
	ProductID       string            `json:"product_id"`
	Active          bool              `json:"active"`
	Description     *string           `json:"description"`
	UnitAmount      *int64            `json:"unit_amount"`
	Currency        string            `json:"currency"`
	Type            string            `json:"type"`
	Interval        *string           `json:"interval"`
	IntervalCount   *int64            `json:"interval_count"`
	TrialPeriodDays *int64            `json:"trial_period_days"`
	Metadata        map[string]string `json:"metadata"`
}

// Subscription - subscriptions 테이블 (Stripe 미러)
type Subscription struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	Status             string            `json:"status"`
	Metadata           map[string]string `json:"metadata"`
	PriceID            string            `json:"price_id"`
	Quantity           int64             `json:"quantity"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	EndedAt            *time.Time        `json:"ended_at"`
	CancelAt           *time.Time        `json:"cancel_at"`
	CanceledAt         *time.Time        `json:"canceled_at"`
	TrialStart         *time.Time        `json:"trial_start"`
	TrialEnd           *time.Time        `json:"trial_end"`
	CreatedAt          time.Time         `json:"created_at,omitempty"`
}

// Generation status
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusPartial    = "partial"
)

// Thumbnail status
const (
	ThumbnailSuccess = "success"
	ThumbnailFailed  = "failed"
)

// Subscription status
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	SubscriptionCanceled = "canceled"
)

// Generation current_step labels
const (
	StepQueued   = "Queued"
	StepStarting = "Starting workflow"
)

// TimeoutMessage - reaper가 기록하는 에러 메시지 (늦은 콜백 판별에도 사용)
const TimeoutMessage = "Generation timed out"

// MaxBackgrounds - 요청당 배경 이미지 최대 개수
const MaxBackgrounds = 7

// StringPtr / IntPtr / TimePtr - 업데이트 구성용 헬퍼
func StringPtr(s string) *string { return &s }

func IntPtr(i int) *int { return &i }

func TimePtr(t time.Time) *time.Time { return &t }

func BoolPtr(b bool) *bool { return &b }
