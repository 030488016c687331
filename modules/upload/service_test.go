package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/storage"
)

var issuedAt = time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)

func newBroker(objects storage.ObjectStore) *Broker {
	b := NewBroker(objects, "backgrounds")
	b.SetClock(func() time.Time { return issuedAt })
	return b
}

func TestIssueSlotsNamespacesByUser(t *testing.T) {
	slots, err := newBroker(storage.NewMemoryStore("http://mem")).IssueSlots(context.Background(), "user-1", 3)
	require.NoError(t, err)
	require.Len(t, slots, 3)

	ms := issuedAt.UnixMilli()
	for i, slot := range slots {
		assert.Equal(t, BackgroundPath("user-1", issuedAt, i), slot.Path)
		assert.Contains(t, slot.Path, "user-1/")
		assert.Contains(t, slot.SignedURL, "backgrounds/"+slot.Path)
	}
	assert.Equal(t, fmt.Sprintf("user-1/%d-2.jpg", ms), slots[2].Path)
}

func TestIssueSlotsZeroSkipsStorage(t *testing.T) {
	objects := storage.NewMemoryStore("http://mem")
	objects.FailSlots = errors.New("storage must not be called")

	slots, err := newBroker(objects).IssueSlots(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestIssueSlotsRejectsOutOfRange(t *testing.T) {
	b := newBroker(storage.NewMemoryStore("http://mem"))
	for _, count := range []int{-1, 8} {
		_, err := b.IssueSlots(context.Background(), "user-1", count)
		require.Error(t, err)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}

func TestIssueSlotsStorageFailure(t *testing.T) {
	objects := storage.NewMemoryStore("http://mem")
	objects.FailSlots = errors.New("bucket missing")

	_, err := newBroker(objects).IssueSlots(context.Background(), "user-1", 2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestHandleCreateSlots(t *testing.T) {
	h := NewHandler(newBroker(storage.NewMemoryStore("http://mem")))

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/backgrounds", bytes.NewBufferString(`{"count":2}`))
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: "user-9"}))
	rec := httptest.NewRecorder()
	h.HandleCreateSlots(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body SlotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Len(t, body.URLs, 2)
}
