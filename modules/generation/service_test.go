package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbforge-server/modules/common/admin"
	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/database/memstore"
	"thumbforge-server/modules/common/model"
	"thumbforge-server/modules/common/storage"
	"thumbforge-server/modules/quota"
	"thumbforge-server/modules/status"
)

var (
	creator = &auth.User{ID: "user-1", Email: "creator@example.com"}
	owner   = &auth.User{ID: "user-admin", Email: "owner@example.com"}
)

// fakeDispatcher - 오케스트레이터 대역
type fakeDispatcher struct {
	mu       sync.Mutex
	requests []*DispatchRequest
	err      error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req *DispatchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.err
}

type fixture struct {
	store      *memstore.Store
	objects    *storage.MemoryStore
	dispatcher *fakeDispatcher
	hub        *status.Hub
	service    *Service
	portraitID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	objects := storage.NewMemoryStore("http://storage.test")
	dispatcher := &fakeDispatcher{}
	hub := status.NewHub(nil)

	quotas := quota.NewService(store, admin.NewChecker([]string{owner.Email}), quota.NewPlanTable("price_pro", "price_agency"), time.UTC)
	svc := NewService(store, quotas, objects, dispatcher, hub, Options{
		BackgroundBucket: "backgrounds",
		SupabaseURL:      "https://proj.supabase.co",
		CallbackURL:      "https://app.example.com/api/webhooks/n8n-callback",
	})

	portrait := store.PutPortrait(model.Portrait{UserID: creator.ID, PublicURL: "http://storage.test/public/portraits/user-1/me.jpg", IsActive: true})
	return &fixture{store: store, objects: objects, dispatcher: dispatcher, hub: hub, service: svc, portraitID: portrait.ID}
}

func (f *fixture) seedUsage(userID string, n int) {
	for i := 0; i < n; i++ {
		f.store.PutGeneration(model.Generation{UserID: userID, Status: model.StatusCompleted, CreatedAt: time.Now()})
	}
}

func (f *fixture) request() *CreateRequest {
	return &CreateRequest{
		PortraitID:      f.portraitID,
		Keywords:        "shocked face; giant gold coin; red arrow",
		BackgroundPaths: []string{"user-1/1700000000000-0.jpg", "user-1/1700000000000-1.jpg"},
	}
}

func TestCreateGenerationHappyPath(t *testing.T) {
	f := newFixture(t)

	id, err := f.service.CreateGeneration(context.Background(), creator, f.request())
	require.NoError(t, err)

	gen, err := f.store.GetGeneration(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, gen.Status)
	assert.Equal(t, model.StepStarting, *gen.CurrentStep)
	assert.NotNil(t, gen.StartedAt)
	assert.Equal(t, 2, gen.BackgroundCount)
	assert.Equal(t, 0, gen.Progress)

	require.Len(t, f.dispatcher.requests, 1)
	sent := f.dispatcher.requests[0]
	assert.Equal(t, id, sent.GenerationID)
	assert.Equal(t, "http://storage.test/public/portraits/user-1/me.jpg", sent.PortraitURL)
	assert.Equal(t, []BackgroundImage{
		{URL: "http://storage.test/public/backgrounds/user-1/1700000000000-0.jpg", Index: 0},
		{URL: "http://storage.test/public/backgrounds/user-1/1700000000000-1.jpg", Index: 1},
	}, sent.BackgroundImages)
	assert.Equal(t, "https://proj.supabase.co", sent.SupabaseURL)
}

func TestCreateGenerationValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *CreateRequest)
		message string
	}{
		{name: "bad portrait id", mutate: func(r *CreateRequest) { r.PortraitID = "not-a-uuid" }, message: "Invalid portrait ID"},
		{name: "short keywords", mutate: func(r *CreateRequest) { r.Keywords = "ab" }, message: "Keywords must be at least 3 characters"},
		{name: "long keywords", mutate: func(r *CreateRequest) { r.Keywords = strings.Repeat("k", 501) }, message: "Keywords too long"},
		{name: "too many backgrounds", mutate: func(r *CreateRequest) { r.BackgroundPaths = make([]string, 8) }, message: "Maximum 7 background images allowed"},
		{name: "empty background path", mutate: func(r *CreateRequest) { r.BackgroundPaths = []string{""} }, message: "Invalid background path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request()
			tt.mutate(req)

			_, err := f.service.CreateGeneration(context.Background(), creator, req)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, tt.message, err.Error())
			assert.Equal(t, 0, f.store.GenerationCount())
			assert.Empty(t, f.dispatcher.requests)
		})
	}
}

func TestCreateGenerationKeywordBoundaries(t *testing.T) {
	f := newFixture(t)
	for _, keywords := range []string{"abc", strings.Repeat("한", 500)} {
		req := f.request()
		req.Keywords = keywords
		_, err := f.service.CreateGeneration(context.Background(), creator, req)
		require.NoError(t, err)
	}
}

func TestCreateGenerationQuotaBoundary(t *testing.T) {
	t.Run("used equals limit rejects", func(t *testing.T) {
		f := newFixture(t)
		f.seedUsage(creator.ID, 5)

		_, err := f.service.CreateGeneration(context.Background(), creator, f.request())
		require.Error(t, err)
		assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))
		assert.Equal(t, "Monthly limit reached (5 generations). Upgrade to continue.", err.Error())
		assert.Equal(t, 5, f.store.GenerationCount())

		var appErr *apperr.Error
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, 5, appErr.Limit)
	})

	t.Run("used one below limit accepts", func(t *testing.T) {
		f := newFixture(t)
		f.seedUsage(creator.ID, 4)

		_, err := f.service.CreateGeneration(context.Background(), creator, f.request())
		require.NoError(t, err)
		assert.Equal(t, 6, f.store.GenerationCount())
	})
}

func TestCreateGenerationAdminBypassesQuota(t *testing.T) {
	f := newFixture(t)
	f.seedUsage(owner.ID, 500)
	portrait := f.store.PutPortrait(model.Portrait{UserID: owner.ID, PublicURL: "http://x/p.jpg"})

	req := f.request()
	req.PortraitID = portrait.ID
	_, err := f.service.CreateGeneration(context.Background(), owner, req)
	require.NoError(t, err)
}

func TestCreateGenerationForeignPortrait(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.PortraitID = uuid.NewString()

	_, err := f.service.CreateGeneration(context.Background(), creator, req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "Portrait not found", err.Error())
	assert.Equal(t, 0, f.store.GenerationCount())
}

func TestCreateGenerationDispatchFailureRecordsFailedRow(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("n8n trigger failed: 502 - Bad Gateway")

	_, err := f.service.CreateGeneration(context.Background(), creator, f.request())
	require.Error(t, err)

	rec := httptest.NewRecorder()
	apperr.Write(rec, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to start thumbnail generation. Please try again.")
	assert.NotContains(t, rec.Body.String(), "Bad Gateway")

	gens, err := f.store.ListGenerations(context.Background(), creator.ID, 10)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, model.StatusFailed, gens[0].Status)
	require.NotNil(t, gens[0].ErrorMessage)
	assert.Equal(t, "n8n trigger failed: 502 - Bad Gateway", *gens[0].ErrorMessage)
	assert.Equal(t, 100, gens[0].Progress)
	assert.NotNil(t, gens[0].CompletedAt)
}

// lateCallbackDispatcher - dispatch 응답 전에 콜백이 먼저 종료시킨 상황
type lateCallbackDispatcher struct {
	store *memstore.Store
}

func (d *lateCallbackDispatcher) Dispatch(ctx context.Context, req *DispatchRequest) error {
	_, err := d.store.UpdateGeneration(ctx, req.GenerationID, model.GenerationUpdate{
		Status:   model.StringPtr(model.StatusCompleted),
		Progress: model.IntPtr(100),
	}, nil)
	return err
}

func TestCreateGenerationDoesNotRegressTerminalRow(t *testing.T) {
	f := newFixture(t)
	f.service.dispatcher = &lateCallbackDispatcher{store: f.store}

	id, err := f.service.CreateGeneration(context.Background(), creator, f.request())
	require.NoError(t, err)

	gen, err := f.store.GetGeneration(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, gen.Status)
	assert.Nil(t, gen.StartedAt)
}

func TestOrchestratorClientPayloadShape(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewOrchestratorClient(srv.URL, 5*time.Second)
	err := client.Dispatch(context.Background(), &DispatchRequest{
		GenerationID:     "gen-1",
		Keywords:         "a;b;c",
		PortraitURL:      "http://p",
		BackgroundImages: []BackgroundImage{{URL: "http://b0", Index: 0}},
		SupabaseURL:      "https://proj.supabase.co",
	})
	require.NoError(t, err)

	assert.Equal(t, "gen-1", payload["generation_id"])
	assert.Equal(t, "a;b;c", payload["Keywords"])
	assert.Equal(t, "http://p", payload["portrait_url"])
	assert.Equal(t, "https://proj.supabase.co", payload["supabase_url"])
	assert.Equal(t, []interface{}{map[string]interface{}{"url": "http://b0", "index": float64(0)}}, payload["Background Images"])
	assert.NotContains(t, payload, "callback_url")
}

func TestOrchestratorClientNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow inactive", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewOrchestratorClient(srv.URL, time.Second).Dispatch(context.Background(), &DispatchRequest{GenerationID: "g"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "n8n trigger failed: 404 - workflow inactive")
}

func TestOrchestratorClientNotConfigured(t *testing.T) {
	err := NewOrchestratorClient("", time.Second).Dispatch(context.Background(), &DispatchRequest{})
	assert.ErrorIs(t, err, ErrOrchestratorNotConfigured)
}

func withUser(req *http.Request, user *auth.User) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), user))
}

func TestHandlersCreateAndGet(t *testing.T) {
	f := newFixture(t)
	router := mux.NewRouter()
	NewHandler(f.service).RegisterRoutes(router.PathPrefix("/api").Subrouter())

	body, _ := json.Marshal(f.request())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodPost, "/api/generations", bytes.NewReader(body)), creator))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created CreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.GenerationID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/generations/"+created.GenerationID, nil), creator))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"thumbnails":[]`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/generations/"+created.GenerationID, nil), owner))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/generations", nil), creator))
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Generations, 1)
}

func TestHandleCreateQuotaExceededIs403(t *testing.T) {
	f := newFixture(t)
	f.seedUsage(creator.ID, 5)

	body, _ := json.Marshal(f.request())
	rec := httptest.NewRecorder()
	NewHandler(f.service).HandleCreate(rec, withUser(httptest.NewRequest(http.MethodPost, "/api/generations", bytes.NewReader(body)), creator))

	require.Equal(t, http.StatusForbidden, rec.Code)
	var resp apperr.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperr.ErrCodeQuotaExceeded, resp.ErrorCode)
	assert.Equal(t, 5, resp.Limit)
}

func TestGetMalformedIDIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Get(context.Background(), creator, "gen-42")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.store.GetGeneration(context.Background(), "gen-42")
	require.Error(t, err)
	assert.NotErrorIs(t, err, database.ErrNotFound)
}
