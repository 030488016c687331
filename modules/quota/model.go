package quota

import "time"

// Plan ids
const (
	PlanFree      = "free"
	PlanPro       = "pro"
	PlanAgency    = "agency"
	PlanUnlimited = "unlimited"
)

// Plan - 요금제별 기간당 생성 한도
type Plan struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Limit   int    `json:"limit"`
	PriceID string `json:"priceId,omitempty"`
}

// Quota - 사용자의 현재 기간 사용량
// Limit이 nil이면 무제한 (관리자)
type Quota struct {
	Used        int        `json:"used"`
	Limit       *int       `json:"limit"`
	IsAdmin     bool       `json:"isAdmin"`
	Plan        string     `json:"plan"`
	PeriodStart time.Time  `json:"periodStart"`
	PeriodEnd   *time.Time `json:"periodEnd"`
}

// Remaining - 남은 생성 횟수 (무제한이면 -1)
func (q *Quota) Remaining() int {
	if q.Limit == nil {
		return -1
	}
	if q.Used >= *q.Limit {
		return 0
	}
	return *q.Limit - q.Used
}

// Exceeded - used >= limit
func (q *Quota) Exceeded() bool {
	return q.Limit != nil && q.Used >= *q.Limit
}

// QuotaResponse - GET /api/quota 응답
type QuotaResponse struct {
	Success bool `json:"success"`
	*Quota
}
