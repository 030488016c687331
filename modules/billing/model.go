package billing

import (
	"bytes"
	"encoding/json"
	"time"
)

// Event - 서명 검증을 통과한 Stripe 이벤트
type Event struct {
	ID   string
	Type string
	Raw  json.RawMessage
}

// expandable - Stripe 확장 필드 (문자열 id 또는 객체)
type expandable[T any] struct {
	ID     string
	Object *T
}

func (e *expandable[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.ID)
	}

	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}
	var obj T
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.ID = ref.ID
	e.Object = &obj
	return nil
}

type stripeProduct struct {
	ID          string            `json:"id"`
	Active      bool              `json:"active"`
	Name        string            `json:"name"`
	Description *string           `json:"description"`
	Images      []string          `json:"images"`
	Metadata    map[string]string `json:"metadata"`
}

type stripeRecurring struct {
	Interval        string `json:"interval"`
	IntervalCount   int64  `json:"interval_count"`
	TrialPeriodDays *int64 `json:"trial_period_days"`
}

type stripePrice struct {
	ID         string                    `json:"id"`
	Product    expandable[stripeProduct] `json:"product"`
	Active     bool                      `json:"active"`
	Nickname   *string                   `json:"nickname"`
	UnitAmount *int64                    `json:"unit_amount"`
	Currency   string                    `json:"currency"`
	Type       string                    `json:"type"`
	Recurring  *stripeRecurring          `json:"recurring"`
	Metadata   map[string]string         `json:"metadata"`
}

type stripeSubscriptionItem struct {
	Price              stripePrice `json:"price"`
	Quantity           int64       `json:"quantity"`
	CurrentPeriodStart int64       `json:"current_period_start"`
	CurrentPeriodEnd   int64       `json:"current_period_end"`
}

type stripeSubscription struct {
	ID                 string               `json:"id"`
	Customer           expandable[struct{}] `json:"customer"`
	Status             string               `json:"status"`
	Metadata           map[string]string    `json:"metadata"`
	CancelAtPeriodEnd  bool                 `json:"cancel_at_period_end"`
	CurrentPeriodStart int64                `json:"current_period_start"`
	CurrentPeriodEnd   int64                `json:"current_period_end"`
	EndedAt            *int64               `json:"ended_at"`
	CancelAt           *int64               `json:"cancel_at"`
	CanceledAt         *int64               `json:"canceled_at"`
	TrialStart         *int64               `json:"trial_start"`
	TrialEnd           *int64               `json:"trial_end"`
	Items              struct {
		Data []stripeSubscriptionItem `json:"data"`
	} `json:"items"`
}

type stripeCheckoutSession struct {
	ID           string               `json:"id"`
	Mode         string               `json:"mode"`
	Customer     expandable[struct{}] `json:"customer"`
	Subscription expandable[struct{}] `json:"subscription"`
}

// period - 최신 API는 기간을 아이템 단위로 내려줌
func (s *stripeSubscription) period() (int64, int64) {
	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if start == 0 {
			start = item.CurrentPeriodStart
		}
		if end == 0 {
			end = item.CurrentPeriodEnd
		}
	}
	return start, end
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func unixTimePtr(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := unixTime(*sec)
	return &t
}

// CheckoutRequest - POST /api/billing/checkout
type CheckoutRequest struct {
	Plan string `json:"plan"`
}

// SessionResponse - 호스팅 페이지 URL
type SessionResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

type receivedResponse struct {
	Received bool `json:"received"`
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}
