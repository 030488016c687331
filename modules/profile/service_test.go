package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/database/memstore"
	"thumbforge-server/modules/common/model"
)

var alice = &auth.User{ID: "user-a", Email: "alice@example.com"}

func TestGetCreatesMissingProfile(t *testing.T) {
	store := memstore.New()
	s := NewService(store)

	p, err := s.Get(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, p.ID)
	assert.Equal(t, alice.Email, p.Email)
	assert.False(t, p.OnboardingCompleted)

	again, err := s.Get(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, again.CreatedAt)
}

func TestUpdateName(t *testing.T) {
	s := NewService(memstore.New())
	ctx := context.Background()

	p, err := s.UpdateName(ctx, alice, "  Alice Kim  ")
	require.NoError(t, err)
	require.NotNil(t, p.FullName)
	assert.Equal(t, "Alice Kim", *p.FullName)

	for _, name := range []string{"", "   ", strings.Repeat("가", MaxNameLength+1)} {
		_, err := s.UpdateName(ctx, alice, name)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "%q", name)
	}

	_, err = s.UpdateName(ctx, alice, strings.Repeat("가", MaxNameLength))
	assert.NoError(t, err)
}

func TestCompleteOnboardingKeepsOtherFields(t *testing.T) {
	store := memstore.New()
	store.SetClock(func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) })
	s := NewService(store)
	ctx := context.Background()

	_, err := s.UpdateName(ctx, alice, "Alice")
	require.NoError(t, err)

	p, err := s.CompleteOnboarding(ctx, alice)
	require.NoError(t, err)
	assert.True(t, p.OnboardingCompleted)
	require.NotNil(t, p.FullName)
	assert.Equal(t, "Alice", *p.FullName)
}

func TestUpdateAvatar(t *testing.T) {
	s := NewService(memstore.New())
	ctx := context.Background()

	p, err := s.UpdateAvatar(ctx, alice, "https://cdn.example.com/a.png")
	require.NoError(t, err)
	require.NotNil(t, p.AvatarURL)
	assert.Equal(t, "https://cdn.example.com/a.png", *p.AvatarURL)

	for _, bad := range []string{"javascript:alert(1)", "ftp://host/a.png", "not a url", "https://"} {
		_, err := s.UpdateAvatar(ctx, alice, bad)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), bad)
	}

	p, err = s.UpdateAvatar(ctx, alice, "")
	require.NoError(t, err)
	require.NotNil(t, p.AvatarURL)
	assert.Empty(t, *p.AvatarURL)
}

type failingStore struct {
	*memstore.Store
}

func (failingStore) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.Profile, error) {
	return nil, errors.New("connection reset")
}

func TestUpdateStoreFailureIsInternal(t *testing.T) {
	s := NewService(failingStore{memstore.New()})
	_, err := s.CompleteOnboarding(context.Background(), alice)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestHandlers(t *testing.T) {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), alice)))
		})
	})
	NewHandler(NewService(memstore.New())).RegisterRoutes(r)

	do := func(method, path, body string) (*httptest.ResponseRecorder, ProfileResponse) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
		var resp ProfileResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		return rec, resp
	}

	rec, resp := do(http.MethodPatch, "/profile", `{"fullName":"Alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = do(http.MethodPatch, "/profile", `{"fullName":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(http.MethodPatch, "/profile", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(http.MethodPut, "/profile/avatar", `{"avatarUrl":"https://cdn.example.com/a.png"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(http.MethodPost, "/profile/onboarding/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = do(http.MethodGet, "/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Profile)
	assert.True(t, resp.Profile.OnboardingCompleted)
	require.NotNil(t, resp.Profile.FullName)
	assert.Equal(t, "Alice", *resp.Profile.FullName)
	require.NotNil(t, resp.Profile.AvatarURL)
	assert.Equal(t, "https://cdn.example.com/a.png", *resp.Profile.AvatarURL)
}
