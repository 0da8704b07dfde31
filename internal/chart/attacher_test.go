package chart

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/setupwatch/internal/cache/memory"
	"github.com/alanyoungcy/setupwatch/internal/domain"
	storemem "github.com/alanyoungcy/setupwatch/internal/store/memory"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{objects: map[string][]byte{}} }

func (b *memBlob) Put(_ context.Context, p string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[p] = raw
	return nil
}

func (b *memBlob) PutMultipart(ctx context.Context, p string, data io.Reader, _ int64) error {
	return b.Put(ctx, p, data, "")
}

func (b *memBlob) Exists(_ context.Context, p string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[p]
	return ok, nil
}

func (b *memBlob) URL(p string) string { return "https://cdn.test/" + p }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/snapshots", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BTCUSDT", req.Symbol)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sampleRequest() Request {
	return Request{RefKind: "decision", RefID: "d-1", Symbol: "BTCUSDT", Side: domain.SideLong, Entry: 100, Stop: 95, Target: 110}
}

func newTestAttacher(cfg Config, srvURL string, blob Blob, store *storemem.Store) *Attacher {
	return NewAttacher(cfg, NewClient(srvURL, "key", time.Second), cachemem.NewRateLimiter(1, time.Second), blob, store.Attachments, discardLogger())
}

func TestAttachStoresImage(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := pngServer(t, &hits)
	blob := newMemBlob()
	store := storemem.New()
	a := newTestAttacher(DefaultConfig(), srv.URL, blob, store)

	att, err := a.Attach(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.AttachmentAttached, att.Status)
	assert.Equal(t, "https://cdn.test/charts/decision/d-1.png", att.URL)
	assert.Equal(t, []byte("\x89PNG"), blob.objects["charts/decision/d-1.png"])

	// Second call is served from the blob cache without calling out.
	att, err = a.Attach(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.AttachmentCached, att.Status)
	assert.Equal(t, int32(1), hits.Load())

	list, err := store.Attachments.ListByRef(context.Background(), "decision", "d-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestAttachQuotaExhaustedIsMissing(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://charts.test/x.png"}`))
	}))
	defer srv.Close()
	cfg := DefaultConfig()
	cfg.DailyQuota = 1
	a := newTestAttacher(cfg, srv.URL, nil, storemem.New())

	first, err := a.Attach(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.AttachmentAttached, first.Status)
	assert.Equal(t, "https://charts.test/x.png", first.URL)

	req := sampleRequest()
	req.RefID = "d-2"
	second, err := a.Attach(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.AttachmentMissing, second.Status)
	assert.Contains(t, second.Error, "daily quota")
	assert.Equal(t, int32(1), hits.Load())
}

func TestAttachRefusalIsMissing(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	store := storemem.New()
	a := newTestAttacher(DefaultConfig(), srv.URL, newMemBlob(), store)

	att, err := a.Attach(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.AttachmentMissing, att.Status)
	assert.NotEmpty(t, att.Error)
}

func TestClientRefusalWrapsQuota(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).Snapshot(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrRefused)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

func TestRequestRunsInBackground(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := pngServer(t, &hits)
	store := storemem.New()
	a := newTestAttacher(DefaultConfig(), srv.URL, newMemBlob(), store)

	a.Request(sampleRequest())
	a.Wait()

	list, err := store.Attachments.ListByRef(context.Background(), "decision", "d-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.AttachmentAttached, list[0].Status)
}
