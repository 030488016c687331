package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbforge-server/modules/common/admin"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/database/memstore"
	"thumbforge-server/modules/common/model"
)

var (
	fixedNow = time.Date(2025, time.March, 14, 15, 0, 0, 0, time.UTC)
	regular  = &auth.User{ID: "user-1", Email: "creator@example.com"}
	owner    = &auth.User{ID: "user-admin", Email: "owner@example.com"}
)

func newService(store *memstore.Store) *Service {
	svc := NewService(store, admin.NewChecker([]string{"owner@example.com"}), NewPlanTable("price_pro", "price_agency"), time.UTC)
	svc.SetClock(func() time.Time { return fixedNow })
	return svc
}

func seedGeneration(store *memstore.Store, userID string, createdAt time.Time) {
	store.PutGeneration(model.Generation{UserID: userID, Status: model.StatusCompleted, CreatedAt: createdAt})
}

func TestResolveFreeTierExcludesPreviousMonth(t *testing.T) {
	store := memstore.New()
	seedGeneration(store, regular.ID, time.Date(2025, time.February, 28, 23, 59, 0, 0, time.UTC))
	seedGeneration(store, regular.ID, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC))
	seedGeneration(store, regular.ID, time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC))
	seedGeneration(store, "someone-else", time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC))

	q, err := newService(store).Resolve(context.Background(), regular)
	require.NoError(t, err)

	assert.Equal(t, 2, q.Used)
	require.NotNil(t, q.Limit)
	assert.Equal(t, 5, *q.Limit)
	assert.Equal(t, PlanFree, q.Plan)
	assert.Nil(t, q.PeriodEnd)
	assert.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), q.PeriodStart)
	assert.False(t, q.IsAdmin)
}

func TestResolveUsesSubscriptionPeriod(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.UpsertProduct(ctx, &model.Product{ID: "prod_1", Active: true, Name: "Pro"}))
	require.NoError(t, store.UpsertPrice(ctx, &model.Price{ID: "price_pro", ProductID: "prod_1", Active: true}))
	require.NoError(t, store.UpsertSubscription(ctx, &model.Subscription{
		ID:                 "sub_1",
		UserID:             regular.ID,
		Status:             model.SubscriptionActive,
		PriceID:            "price_pro",
		CurrentPeriodStart: time.Date(2025, time.February, 20, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC),
	}))
	seedGeneration(store, regular.ID, time.Date(2025, time.February, 19, 0, 0, 0, 0, time.UTC))
	seedGeneration(store, regular.ID, time.Date(2025, time.February, 25, 0, 0, 0, 0, time.UTC))

	q, err := newService(store).Resolve(ctx, regular)
	require.NoError(t, err)

	assert.Equal(t, 1, q.Used)
	assert.Equal(t, 50, *q.Limit)
	assert.Equal(t, PlanPro, q.Plan)
	require.NotNil(t, q.PeriodEnd)
	assert.Equal(t, time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC), *q.PeriodEnd)
}

func TestResolveUnknownPriceFallsBackToFree(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.UpsertProduct(ctx, &model.Product{ID: "prod_legacy"}))
	require.NoError(t, store.UpsertPrice(ctx, &model.Price{ID: "price_legacy", ProductID: "prod_legacy"}))
	require.NoError(t, store.UpsertSubscription(ctx, &model.Subscription{
		ID:                 "sub_legacy",
		UserID:             regular.ID,
		Status:             model.SubscriptionTrialing,
		PriceID:            "price_legacy",
		CurrentPeriodStart: fixedNow.Add(-24 * time.Hour),
		CurrentPeriodEnd:   fixedNow.Add(29 * 24 * time.Hour),
	}))

	q, err := newService(store).Resolve(ctx, regular)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, q.Plan)
	assert.Equal(t, 5, *q.Limit)
	assert.NotNil(t, q.PeriodEnd)
}

func TestResolveIgnoresCanceledSubscription(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.UpsertProduct(ctx, &model.Product{ID: "prod_1"}))
	require.NoError(t, store.UpsertPrice(ctx, &model.Price{ID: "price_agency", ProductID: "prod_1"}))
	require.NoError(t, store.UpsertSubscription(ctx, &model.Subscription{
		ID:      "sub_old",
		UserID:  regular.ID,
		Status:  model.SubscriptionCanceled,
		PriceID: "price_agency",
	}))

	q, err := newService(store).Resolve(ctx, regular)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, q.Plan)
}

func TestResolveAdminIsUnlimited(t *testing.T) {
	store := memstore.New()
	for i := 0; i < 20; i++ {
		seedGeneration(store, owner.ID, fixedNow.Add(-time.Hour))
	}

	q, err := newService(store).Resolve(context.Background(), owner)
	require.NoError(t, err)
	assert.True(t, q.IsAdmin)
	assert.Nil(t, q.Limit)
	assert.False(t, q.Exceeded())
	assert.Equal(t, -1, q.Remaining())
}

func TestPlanTableForPrice(t *testing.T) {
	plans := NewPlanTable("price_pro", "")
	assert.Equal(t, PlanPro, plans.ForPrice("price_pro").ID)
	assert.Equal(t, PlanFree, plans.ForPrice("").ID)
	assert.Equal(t, PlanFree, plans.ForPrice("price_unknown").ID)
	assert.Equal(t, "", plans.PriceFor(PlanAgency))
	assert.Equal(t, 200, plans.Get(PlanAgency).Limit)
}

func TestHandleGetQuota(t *testing.T) {
	store := memstore.New()
	seedGeneration(store, regular.ID, fixedNow.Add(-time.Hour))
	h := NewHandler(newService(store))

	req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	req = req.WithContext(auth.WithUser(req.Context(), regular))
	rec := httptest.NewRecorder()
	h.HandleGetQuota(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["used"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, "free", body["plan"])
	assert.Nil(t, body["periodEnd"])
}

func TestHandleGetQuotaAdminSerializesNullLimit(t *testing.T) {
	h := NewHandler(newService(memstore.New()))

	req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	req = req.WithContext(auth.WithUser(req.Context(), owner))
	rec := httptest.NewRecorder()
	h.HandleGetQuota(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["isAdmin"])
	assert.Contains(t, body, "limit")
	assert.Nil(t, body["limit"])
}

func TestHandleListPlans(t *testing.T) {
	h := NewHandler(newService(memstore.New()))

	rec := httptest.NewRecorder()
	h.HandleListPlans(rec, httptest.NewRequest(http.MethodGet, "/api/plans", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool   `json:"success"`
		Plans   []Plan `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.Plans, 3)
	assert.Equal(t, Plan{ID: PlanFree, Name: "Free", Limit: 5}, body.Plans[0])
	assert.Equal(t, "price_pro", body.Plans[1].PriceID)
	assert.Equal(t, 200, body.Plans[2].Limit)
}
