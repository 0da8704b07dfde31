package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setupwatch/internal/analyzer"
	cachemem "github.com/alanyoungcy/setupwatch/internal/cache/memory"
	"github.com/alanyoungcy/setupwatch/internal/decision"
	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/lifecycle"
	"github.com/alanyoungcy/setupwatch/internal/market"
	"github.com/alanyoungcy/setupwatch/internal/risk"
	"github.com/alanyoungcy/setupwatch/internal/server/handler"
	"github.com/alanyoungcy/setupwatch/internal/service"
	storemem "github.com/alanyoungcy/setupwatch/internal/store/memory"
)

const testKey = "secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	logger := discardLogger()
	store := storemem.New()
	tracker := market.NewPriceTracker(market.Config{})

	proposals := service.NewProposalService(service.ProposalDeps{
		Evaluator:   risk.NewEvaluator(risk.DefaultConfig()),
		Engine:      decision.NewEngine(decision.DefaultConfig()),
		Windows:     lifecycle.DefaultWindows(),
		Decisions:   store.Decisions,
		Attachments: store.Attachments,
		Calendar:    store.Calendar,
		Exposure:    service.NewExposureProvider(store.Setups, 0.01),
		Signals:     service.NewMarketSignalProvider(tracker),
		Logger:      logger,
	})
	outcomes := service.NewOutcomeService(service.OutcomeConfig{}, service.OutcomeDeps{
		Analyzer: analyzer.New(nil),
		Setups:   store.Setups,
		Lessons:  store.Lessons,
		Prices:   store.Prices,
		Logger:   logger,
	})
	setups := service.NewTracker(service.TrackerConfig{}, service.TrackerDeps{
		Setups:      store.Setups,
		Prices:      store.Prices,
		Market:      tracker,
		Attachments: store.Attachments,
		Outcomes:    outcomes,
		Logger:      logger,
	})

	srv := NewServer(cfg, Handlers{
		Health:    handler.NewHealthHandler("api", nil, logger),
		Proposals: handler.NewProposalHandler(proposals, logger),
		Setups:    handler.NewSetupHandler(setups, outcomes, logger),
		Calendar:  handler.NewCalendarHandler(service.NewCalendarService(store.Calendar, logger), logger),
	}, nil, cachemem.NewRateLimiter(0, 0), logger)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func daxProposal() map[string]any {
	return map[string]any{
		"symbol": "DAX", "side": "long", "entry": 19500, "stop": 19450, "target": 19600,
		"confidence": 0.7, "timeframe": "1h",
	}
}

func TestProposalToLessonFlow(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, Config{APIKey: testKey})

	rec := do(t, h, http.MethodPost, "/api/proposals", daxProposal())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[domain.Decision](t, rec)
	assert.Equal(t, domain.ActionExecute, d.Action)
	require.NotEmpty(t, d.SetupID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/api/decisions/"+d.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[service.DecisionView](t, rec)
	assert.Equal(t, d.ID, view.ID)
	assert.NotNil(t, view.Attachments)

	rec = do(t, h, http.MethodGet, "/api/setups/"+d.SetupID+"/lesson", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	base := time.Now().UTC().Add(time.Minute)
	rec = do(t, h, http.MethodPost, "/api/prices", []map[string]any{
		{"symbol": "DAX", "price": 19500, "observed_at": base.Format(time.RFC3339Nano)},
		{"symbol": "DAX", "price": 19445, "observed_at": base.Add(time.Minute).Format(time.RFC3339Nano)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var prices struct {
		Accepted    int                  `json:"accepted"`
		Transitions []service.Transition `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prices))
	assert.Equal(t, 2, prices.Accepted)
	require.Len(t, prices.Transitions, 2)
	assert.Equal(t, domain.SetupStopHit, prices.Transitions[1].To)

	rec = do(t, h, http.MethodGet, "/api/setups?status=sl_hit&symbol=DAX", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Setups []domain.Setup `json:"setups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Setups, 1)
	assert.Equal(t, d.SetupID, list.Setups[0].ID)

	rec = do(t, h, http.MethodPost, "/api/setups/"+d.SetupID+"/invalidate", map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/lessons", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"lessons":[]}`, rec.Body.String())
}

func TestInvalidInputIs400(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, Config{APIKey: testKey})

	bad := daxProposal()
	bad["side"] = "sideways"
	rec := do(t, h, http.MethodPost, "/api/proposals", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sideways")

	req := httptest.NewRequest(http.MethodPost, "/api/proposals", strings.NewReader("{"))
	req.Header.Set("X-API-Key", testKey)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = do(t, h, http.MethodPost, "/api/prices", map[string]any{"symbol": "DAX", "price": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/setups?status=open", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/setups/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidatePendingSetup(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, Config{})

	d := decode[domain.Decision](t, do(t, h, http.MethodPost, "/api/proposals", daxProposal()))
	rec := do(t, h, http.MethodPost, "/api/setups/"+d.SetupID+"/invalidate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	view := decode[service.SetupView](t, do(t, h, http.MethodGet, "/api/setups/"+d.SetupID, nil))
	assert.Equal(t, domain.SetupExpired, view.Status)
	require.NotNil(t, view.Outcome)
	assert.Equal(t, domain.OutcomeInvalidated, *view.Outcome)
}

func TestCalendarEndpoints(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, Config{})
	at := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)

	rec := do(t, h, http.MethodPost, "/api/calendar", map[string]any{
		"name": "US CPI", "symbols": []string{"ES"}, "scheduled_at": at,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[domain.CalendarEvent](t, rec)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, domain.ImpactHigh, saved.Impact)

	rec = do(t, h, http.MethodGet, "/api/calendar", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Events []domain.CalendarEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Events, 1)
	assert.Equal(t, "US CPI", got.Events[0].Name)

	rec = do(t, h, http.MethodPost, "/api/calendar", map[string]any{"name": "x", "impact": "extreme", "scheduled_at": at})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddlewareChain(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, Config{APIKey: testKey, RateLimit: 2, RateWindow: time.Minute, CORSOrigins: []string{"https://app.test"}})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "health needs no key")

	req = httptest.NewRequest(http.MethodGet, "/api/decisions", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/decisions", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-API-Key", testKey)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "third request from the same IP")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	req = httptest.NewRequest(http.MethodOptions, "/api/proposals", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("Origin", "https://app.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/decisions", nil)
	req.RemoteAddr = "10.0.0.3:1234"
	req.Header.Set("Origin", "https://evil.test")
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthReportsFailingDependency(t *testing.T) {
	t.Parallel()
	hh := handler.NewHealthHandler("full", map[string]handler.Checker{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return assert.AnError },
	}, discardLogger())

	rec := httptest.NewRecorder()
	hh.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["postgres"])
}
