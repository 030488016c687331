package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbforge-server/modules/common/config"
	"thumbforge-server/modules/common/database/memstore"
	"thumbforge-server/modules/common/model"
	"thumbforge-server/modules/common/storage"
	"thumbforge-server/modules/status"
)

const secret = "n8n-shared-secret"

// imageHost - /ok/* 는 이미지, /missing/* 는 404
func imageHost(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/ok/"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes(t))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	store    *memstore.Store
	objects  *storage.MemoryStore
	ingestor *Ingestor
	host     *httptest.Server
	gen      *model.Generation
}

func newFixture(t *testing.T, mode config.SignatureMode, opts Options) *fixture {
	t.Helper()
	store := memstore.New()
	objects := storage.NewMemoryStore("http://storage.test")
	if opts.ThumbnailBucket == "" {
		opts.ThumbnailBucket = "thumbnails"
	}
	opts.DownloadTimeout = 5 * time.Second

	ingestor := NewIngestor(store, objects, status.NewHub(nil), NewVerifier(mode, secret), opts)
	gen := store.PutGeneration(model.Generation{
		UserID:    "user-1",
		Status:    model.StatusProcessing,
		CreatedAt: time.Now(),
	})
	return &fixture{store: store, objects: objects, ingestor: ingestor, host: imageHost(t), gen: gen}
}

func (f *fixture) payload(items ...ItemPayload) []byte {
	body, _ := json.Marshal(Payload{GenerationID: f.gen.ID, Status: model.StatusCompleted, Thumbnails: items})
	return body
}

func (f *fixture) ok(p, b int) ItemPayload {
	return ItemPayload{
		ImageURL:        fmt.Sprintf("%s/ok/%d-%d.png", f.host.URL, p, b),
		Prompt:          fmt.Sprintf("prompt %d", p),
		PromptIndex:     p,
		BackgroundIndex: b,
		KieTaskID:       fmt.Sprintf("task-%d-%d", p, b),
		Status:          model.ThumbnailSuccess,
	}
}

func (f *fixture) generation(t *testing.T) *model.Generation {
	t.Helper()
	g, err := f.store.GetGeneration(context.Background(), f.gen.ID)
	require.NoError(t, err)
	return g
}

func TestIngestPartialAggregate(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{})
	failed := ItemPayload{Prompt: "prompt 1", PromptIndex: 1, BackgroundIndex: 0, KieTaskID: "task-x", Status: model.ThumbnailFailed, ErrorMessage: "content policy"}

	result, err := f.ingestor.Ingest(context.Background(), f.payload(f.ok(0, 0), failed, f.ok(2, 0)), "")
	require.NoError(t, err)
	assert.Equal(t, "Processed 3 thumbnails (2 success, 1 failed)", result.Message)

	g := f.generation(t)
	assert.Equal(t, model.StatusPartial, g.Status)
	assert.Equal(t, 2, g.ThumbnailCount)
	assert.Equal(t, 100, g.Progress)
	require.NotNil(t, g.ErrorMessage)
	assert.Contains(t, *g.ErrorMessage, "1 thumbnail(s) failed to generate")
	assert.NotNil(t, g.CompletedAt)

	thumbs := f.store.Thumbnails()
	require.Len(t, thumbs, 3)
	for _, th := range thumbs {
		if th.Status == model.ThumbnailFailed {
			assert.Empty(t, th.StoragePath)
			assert.Empty(t, th.PublicURL)
			assert.Equal(t, "content policy", *th.ErrorMessage)
			continue
		}
		assert.Equal(t, fmt.Sprintf("user-1/%s/%d-%d.jpg", f.gen.ID, th.PromptIndex, th.BackgroundIndex), th.StoragePath)
		assert.Equal(t, "http://storage.test/public/thumbnails/"+th.StoragePath, th.PublicURL)
		_, contentType, err := f.objects.Object("thumbnails", th.StoragePath)
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", contentType)
	}
}

func TestIngestAggregateClassification(t *testing.T) {
	tests := []struct {
		name   string
		items  func(f *fixture) []ItemPayload
		status string
		count  int
	}{
		{name: "all success", items: func(f *fixture) []ItemPayload { return []ItemPayload{f.ok(0, 0), f.ok(0, 1)} }, status: model.StatusCompleted, count: 2},
		{name: "all failed", items: func(f *fixture) []ItemPayload {
			return []ItemPayload{{Status: model.ThumbnailFailed}, {PromptIndex: 1, Status: model.ThumbnailFailed}}
		}, status: model.StatusFailed, count: 0},
		{name: "zero items", items: func(f *fixture) []ItemPayload { return nil }, status: model.StatusCompleted, count: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.SignatureUnverified, Options{})
			_, err := f.ingestor.Ingest(context.Background(), f.payload(tt.items(f)...), "")
			require.NoError(t, err)

			g := f.generation(t)
			assert.Equal(t, tt.status, g.Status)
			assert.Equal(t, tt.count, g.ThumbnailCount)
			if tt.status == model.StatusCompleted {
				assert.Nil(t, g.ErrorMessage)
			}
		})
	}
}

func TestIngestDefaultItemFailureMessage(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{})
	_, err := f.ingestor.Ingest(context.Background(), f.payload(ItemPayload{Status: model.ThumbnailFailed}), "")
	require.NoError(t, err)

	thumbs := f.store.Thumbnails()
	require.Len(t, thumbs, 1)
	assert.Equal(t, "Generation failed", *thumbs[0].ErrorMessage)
}

func TestIngestDownloadFailureIsItemLevel(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{})
	missing := f.ok(1, 1)
	missing.ImageURL = f.host.URL + "/missing/1-1.png"
	badScheme := f.ok(2, 2)
	badScheme.ImageURL = "file:///etc/passwd"

	_, err := f.ingestor.Ingest(context.Background(), f.payload(missing, f.ok(0, 0), badScheme), "")
	require.NoError(t, err)

	g := f.generation(t)
	assert.Equal(t, model.StatusPartial, g.Status)
	assert.Equal(t, 1, g.ThumbnailCount)
	assert.Equal(t, "2 thumbnail(s) failed to generate", *g.ErrorMessage)

	var messages []string
	for _, th := range f.store.Thumbnails() {
		if th.Status == model.ThumbnailFailed {
			messages = append(messages, *th.ErrorMessage)
		}
	}
	assert.Equal(t, []string{"Failed to download generated image", "Failed to download generated image"}, messages)
}

func TestIngestUploadFailure(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{})
	f.objects.FailUploads = errors.New("bucket quota exceeded")

	_, err := f.ingestor.Ingest(context.Background(), f.payload(f.ok(0, 0)), "")
	require.NoError(t, err)

	g := f.generation(t)
	assert.Equal(t, model.StatusFailed, g.Status)
	thumbs := f.store.Thumbnails()
	require.Len(t, thumbs, 1)
	assert.Equal(t, "Failed to store image: bucket quota exceeded", *thumbs[0].ErrorMessage)
}

func TestIngestRowInsertErrorCountsAsFailed(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{})
	f.store.FailThumbnailWrites = errors.New("connection reset")

	result, err := f.ingestor.Ingest(context.Background(), f.payload(f.ok(0, 0), f.ok(0, 1)), "")
	require.NoError(t, err)
	assert.Equal(t, "Processed 2 thumbnails (0 success, 2 failed)", result.Message)
	assert.Equal(t, model.StatusFailed, f.generation(t).Status)
}

func TestIngestOverallFailure(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{})

	for _, tc := range []struct{ reason, want string }{{"", "Generation failed"}, {"kie.ai quota exhausted", "kie.ai quota exhausted"}} {
		body, _ := json.Marshal(Payload{GenerationID: f.gen.ID, Status: model.StatusFailed, Error: tc.reason})
		result, err := f.ingestor.Ingest(context.Background(), body, "")
		require.NoError(t, err)
		assert.Equal(t, "Failure recorded", result.Message)

		g := f.generation(t)
		assert.Equal(t, model.StatusFailed, g.Status)
		assert.Equal(t, tc.want, *g.ErrorMessage)
		assert.Equal(t, 100, g.Progress)
		assert.NotNil(t, g.CompletedAt)
	}
	assert.Empty(t, f.store.Thumbnails())
}

func TestIngestRedeliveryInsertsDuplicates(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{})
	body := f.payload(f.ok(0, 0), f.ok(0, 1))

	_, err := f.ingestor.Ingest(context.Background(), body, "")
	require.NoError(t, err)
	_, err = f.ingestor.Ingest(context.Background(), body, "")
	require.NoError(t, err)

	assert.Len(t, f.store.Thumbnails(), 4)
	assert.Equal(t, 2, f.objects.Len())
	g := f.generation(t)
	assert.Equal(t, model.StatusCompleted, g.Status)
	assert.Equal(t, 2, g.ThumbnailCount)
	assert.Nil(t, g.ErrorMessage)
}

func TestIngestRedeliveryConvergesWithUpsert(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{UpsertItems: true})

	first := f.payload(f.ok(0, 0), ItemPayload{PromptIndex: 0, BackgroundIndex: 1, Status: model.ThumbnailFailed})
	_, err := f.ingestor.Ingest(context.Background(), first, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, f.generation(t).Status)

	second := f.payload(f.ok(0, 0), f.ok(0, 1))
	_, err = f.ingestor.Ingest(context.Background(), second, "")
	require.NoError(t, err)

	thumbs := f.store.Thumbnails()
	require.Len(t, thumbs, 2)
	for _, th := range thumbs {
		assert.Equal(t, model.ThumbnailSuccess, th.Status)
	}
	g := f.generation(t)
	assert.Equal(t, model.StatusCompleted, g.Status)
	assert.Nil(t, g.ErrorMessage)
}

func TestIngestConvertsToWebP(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{ConvertWebP: true, WebPQuality: 80})

	_, err := f.ingestor.Ingest(context.Background(), f.payload(f.ok(3, 4)), "")
	require.NoError(t, err)

	thumbs := f.store.Thumbnails()
	require.Len(t, thumbs, 1)
	assert.True(t, strings.HasSuffix(thumbs[0].StoragePath, "/3-4.webp"))
	data, contentType, err := f.objects.Object("thumbnails", thumbs[0].StoragePath)
	require.NoError(t, err)
	assert.Equal(t, "image/webp", contentType)
	assert.Equal(t, "RIFF", string(data[:4]))
}

type recordingPublisher struct {
	published []model.Generation
}

func (r *recordingPublisher) Publish(ctx context.Context, g *model.Generation) error {
	r.published = append(r.published, *g)
	return nil
}

func TestIngestPublishesFinalStatus(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{})
	rec := &recordingPublisher{}
	f.ingestor.publisher = rec

	_, err := f.ingestor.Ingest(context.Background(), f.payload(f.ok(0, 0)), "")
	require.NoError(t, err)

	require.Len(t, rec.published, 1)
	assert.Equal(t, f.gen.ID, rec.published[0].ID)
	assert.Equal(t, model.StatusCompleted, rec.published[0].Status)
}

func TestIngestLateCallbackRecoversTimedOutGeneration(t *testing.T) {
	f := newFixture(t, config.SignatureUnverified, Options{})
	_, err := f.store.UpdateGeneration(context.Background(), f.gen.ID, model.GenerationUpdate{
		Status:       model.StringPtr(model.StatusFailed),
		ErrorMessage: model.StringPtr(model.TimeoutMessage),
		Progress:     model.IntPtr(100),
	}, nil)
	require.NoError(t, err)

	result, err := f.ingestor.Ingest(context.Background(), f.payload(f.ok(0, 0)), "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, result.Status)

	g := f.generation(t)
	assert.Equal(t, model.StatusCompleted, g.Status)
	assert.Equal(t, 1, g.ThumbnailCount)
	assert.Nil(t, g.ErrorMessage)
}
