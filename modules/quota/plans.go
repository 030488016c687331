package quota

// PlanTable - 요금제 정의 (price id는 설정에서 주입)
type PlanTable struct {
	plans map[string]Plan
}

// NewPlanTable - free 5 / pro 50 / agency 200
func NewPlanTable(proPriceID, agencyPriceID string) *PlanTable {
	return &PlanTable{plans: map[string]Plan{
		PlanFree:   {ID: PlanFree, Name: "Free", Limit: 5},
		PlanPro:    {ID: PlanPro, Name: "Pro", Limit: 50, PriceID: proPriceID},
		PlanAgency: {ID: PlanAgency, Name: "Agency", Limit: 200, PriceID: agencyPriceID},
	}}
}

// Get - 알 수 없는 id는 free
func (t *PlanTable) Get(id string) Plan {
	if plan, ok := t.plans[id]; ok {
		return plan
	}
	return t.plans[PlanFree]
}

// ForPrice - price id로 요금제 조회, 매칭 실패 시 free
func (t *PlanTable) ForPrice(priceID string) Plan {
	if priceID == "" {
		return t.plans[PlanFree]
	}
	for _, id := range []string{PlanPro, PlanAgency} {
		plan := t.plans[id]
		if plan.PriceID != "" && plan.PriceID == priceID {
			return plan
		}
	}
	return t.plans[PlanFree]
}

// PriceFor - 유료 요금제의 price id (free거나 미설정이면 "")
func (t *PlanTable) PriceFor(id string) string {
	plan, ok := t.plans[id]
	if !ok {
		return ""
	}
	return plan.PriceID
}

// All - free, pro, agency 순
func (t *PlanTable) All() []Plan {
	return []Plan{t.plans[PlanFree], t.plans[PlanPro], t.plans[PlanAgency]}
}
