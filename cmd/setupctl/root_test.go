package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/journal"
)

type captured struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

// fakeServer records the last request and answers with status and reply.
func fakeServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.auth = r.Header.Get("Authorization")
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			assert.NoError(t, json.Unmarshal(raw, &got.body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

// run executes setupctl with a profile that does not exist so only flags
// configure the client.
func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	base := []string{"--profile", filepath.Join(t.TempDir(), "missing.yaml")}
	if srv != nil {
		base = append(base, "--base-url", srv.URL, "--api-key", "k")
	}
	root.SetArgs(append(base, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProposeReadsYAML(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"decision":{"action":"EXECUTE"}}`)
	file := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(file, []byte("symbol: BTCUSDT\nside: long\nentry: 100\nstop: 95\ntarget: 110\nconfidence: 0.7\n"), 0o600))

	out, err := run(t, srv, "propose", "-f", file)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/proposals", got.path)
	assert.Equal(t, "Bearer k", got.auth)
	assert.Equal(t, "BTCUSDT", got.body["symbol"])
	assert.InDelta(t, 0.7, got.body["confidence"], 1e-9)
	assert.Contains(t, out, `"action": "EXECUTE"`)
}

func TestPriceSendsObservation(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"accepted":1,"transitions":[]}`)

	_, err := run(t, srv, "price", "btcusdt", "64123.5", "--at", "2026-05-04T08:00:00Z")
	require.NoError(t, err)

	assert.Equal(t, "/api/prices", got.path)
	assert.Equal(t, "BTCUSDT", got.body["symbol"])
	assert.InDelta(t, 64123.5, got.body["price"], 1e-9)
	assert.Equal(t, "2026-05-04T08:00:00Z", got.body["observed_at"])

	_, err = run(t, srv, "price", "BTCUSDT", "abc")
	assert.Error(t, err)
}

func TestSetupsForwardsFilters(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"setups":[]}`)

	_, err := run(t, srv, "setups", "--status", "sl_hit", "--symbol", "dax", "--limit", "5")
	require.NoError(t, err)

	assert.Equal(t, "/api/setups", got.path)
	assert.Contains(t, got.query, "status=sl_hit")
	assert.Contains(t, got.query, "symbol=DAX")
	assert.Contains(t, got.query, "limit=5")
}

func TestServerErrorIsReported(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusConflict, `{"error":"setup s-1 is tp_hit"}`)

	_, err := run(t, srv, "invalidate", "s-1", "--reason", "news")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "setup s-1 is tp_hit")
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: http://box:9000\napi_key: from-file\ntimeout: 3s\n"), 0o600))

	p, err := loadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://box:9000", p.BaseURL)
	assert.Equal(t, "from-file", p.APIKey)
	assert.Equal(t, 3*time.Second, p.Timeout)

	t.Setenv("SETUPCTL_API_KEY", "from-env")
	p, err = loadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", p.APIKey)

	p, err = loadProfile(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, p.BaseURL)
}

func TestJournalCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.OpenSQLite(dbPath)
	require.NoError(t, err)
	rec, err := journal.DecisionRecord(domain.Decision{
		ID:        "d-9",
		Proposal:  domain.TradeProposal{Symbol: "ETHUSDT", Side: domain.SideShort},
		Action:    domain.ActionHalt,
		DecidedAt: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, j.Write(context.Background(), rec))
	require.NoError(t, j.Close())

	out, err := run(t, nil, "journal", "--db", dbPath, "--kind", "decision")
	require.NoError(t, err)
	assert.Contains(t, out, "d-9")
	assert.Contains(t, out, "ETHUSDT")

	out, err = run(t, nil, "journal", "--db", dbPath, "--kind", "lesson")
	require.NoError(t, err)
	assert.NotContains(t, out, "d-9")
}

func TestVersion(t *testing.T) {
	out, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "setupctl version "+version+"\n", out)
}
