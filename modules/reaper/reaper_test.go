package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbforge-server/modules/common/database/memstore"
	"thumbforge-server/modules/common/model"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	published []model.Generation
}

func (r *recordingPublisher) Publish(ctx context.Context, g *model.Generation) error {
	r.published = append(r.published, *g)
	return nil
}

func seed(store *memstore.Store, status string, age time.Duration) *model.Generation {
	return store.PutGeneration(model.Generation{
		UserID:    "user-1",
		Status:    status,
		Progress:  10,
		CreatedAt: now.Add(-age),
	})
}

func newReaper(store *memstore.Store, pub *recordingPublisher) *Reaper {
	r := New(store, pub, 30*time.Minute)
	r.SetClock(func() time.Time { return now })
	return r
}

func TestSweepFailsOnlyStaleNonTerminal(t *testing.T) {
	store := memstore.New()
	pub := &recordingPublisher{}

	staleProcessing := seed(store, model.StatusProcessing, 2*time.Hour)
	stalePending := seed(store, model.StatusPending, 31*time.Minute)
	fresh := seed(store, model.StatusProcessing, 5*time.Minute)
	done := seed(store, model.StatusCompleted, 3*time.Hour)

	swept, err := newReaper(store, pub).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	for _, id := range []string{staleProcessing.ID, stalePending.ID} {
		g, err := store.GetGeneration(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusFailed, g.Status)
		assert.Equal(t, 100, g.Progress)
		require.NotNil(t, g.ErrorMessage)
		assert.Equal(t, TimeoutMessage, *g.ErrorMessage)
		require.NotNil(t, g.CompletedAt)
		assert.Equal(t, now, *g.CompletedAt)
	}

	g, err := store.GetGeneration(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, g.Status)

	g, err = store.GetGeneration(context.Background(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, g.Status)
	assert.Nil(t, g.ErrorMessage)

	require.Len(t, pub.published, 2)
	assert.Equal(t, staleProcessing.ID, pub.published[0].ID)
	assert.Equal(t, model.StatusFailed, pub.published[0].Status)
}

// lateCallbackStore - 목록 조회 직후 콜백이 먼저 도착한 상황
type lateCallbackStore struct {
	*memstore.Store
}

func (s lateCallbackStore) ListStaleGenerations(ctx context.Context, statuses []string, createdBefore time.Time) ([]model.Generation, error) {
	stale, err := s.Store.ListStaleGenerations(ctx, statuses, createdBefore)
	for _, g := range stale {
		_, _ = s.Store.UpdateGeneration(ctx, g.ID, model.GenerationUpdate{
			Status:         model.StringPtr(model.StatusCompleted),
			Progress:       model.IntPtr(100),
			ThumbnailCount: model.IntPtr(3),
		}, nil)
	}
	return stale, err
}

func TestSweepDoesNotOverwriteLateCallback(t *testing.T) {
	store := memstore.New()
	pub := &recordingPublisher{}
	g := seed(store, model.StatusProcessing, time.Hour)

	r := New(lateCallbackStore{store}, pub, 30*time.Minute)
	r.SetClock(func() time.Time { return now })

	swept, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, swept)
	assert.Empty(t, pub.published)

	got, err := store.GetGeneration(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.ThumbnailCount)
	assert.Nil(t, got.ErrorMessage)
}

func TestSweepIsIdempotent(t *testing.T) {
	store := memstore.New()
	seed(store, model.StatusProcessing, time.Hour)
	r := newReaper(store, &recordingPublisher{})

	first, err := r.Sweep(context.Background())
	require.NoError(t, err)
	second, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Zero(t, second)
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	s := NewScheduler(newReaper(memstore.New(), &recordingPublisher{}), "every now and then")
	require.Error(t, s.Start())
}

func TestSchedulerRunSweeps(t *testing.T) {
	store := memstore.New()
	g := seed(store, model.StatusPending, time.Hour)
	s := NewScheduler(newReaper(store, &recordingPublisher{}), "@every 5m")

	require.NoError(t, s.Start())
	s.run()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	got, err := store.GetGeneration(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
}
