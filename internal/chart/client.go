// Package chart requests chart snapshots from the external chart service and
// attaches them to decisions and setups on a best-effort basis.
package chart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Request describes the chart to draw.
type Request struct {
	RefKind   string         `json:"ref_kind"`
	RefID     string         `json:"ref_id"`
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	Side      domain.Side    `json:"side"`
	Entry     float64        `json:"entry"`
	Stop      float64        `json:"stop"`
	Target    float64        `json:"target"`
	Status    string         `json:"status,omitempty"`
	From      time.Time      `json:"from"`
	To        time.Time      `json:"to"`
	Marks     map[string]any `json:"marks,omitempty"`
}

// Snapshot is the service's answer. Image is empty when the service only
// returns a URL.
type Snapshot struct {
	Image       []byte
	ContentType string
	URL         string
	Cached      bool
}

// Snapshotter is what the Attacher needs from the chart service.
type Snapshotter interface {
	Snapshot(ctx context.Context, req Request) (Snapshot, error)
}

// ErrRefused means the service declined the request (quota, burst or
// validation) rather than failing.
var ErrRefused = errors.New("chart: refused")

// Client talks to the chart service over HTTP.
type Client struct {
	http *resty.Client
}

// NewClient creates a Client for baseURL. apiKey is sent as a bearer token
// when non-empty.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &Client{http: c}
}

// Snapshot posts req to /v1/snapshots. A 429 or 4xx answer wraps
// ErrRefused; a 429 also wraps domain.ErrQuotaExceeded.
func (c *Client) Snapshot(ctx context.Context, req Request) (Snapshot, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetHeader("Accept", "image/png, application/json").
		Post("/v1/snapshots")
	if err != nil {
		return Snapshot{}, fmt.Errorf("chart: snapshot %s/%s: %w", req.RefKind, req.RefID, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		return Snapshot{}, fmt.Errorf("chart: snapshot %s/%s: %w: %w", req.RefKind, req.RefID, ErrRefused, domain.ErrQuotaExceeded)
	case code >= 400 && code < 500:
		return Snapshot{}, fmt.Errorf("chart: snapshot %s/%s: %w: status %d", req.RefKind, req.RefID, ErrRefused, code)
	case code >= 500:
		return Snapshot{}, fmt.Errorf("chart: snapshot %s/%s: status %d", req.RefKind, req.RefID, code)
	}

	snap := Snapshot{
		ContentType: resp.Header().Get("Content-Type"),
		URL:         resp.Header().Get("X-Chart-URL"),
		Cached:      strings.EqualFold(resp.Header().Get("X-Cache"), "hit"),
	}
	if strings.HasPrefix(snap.ContentType, "application/json") {
		var body struct {
			URL    string `json:"url"`
			Cached bool   `json:"cached"`
		}
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return Snapshot{}, fmt.Errorf("chart: decode snapshot %s/%s: %w", req.RefKind, req.RefID, err)
		}
		snap.URL, snap.Cached = body.URL, snap.Cached || body.Cached
		return snap, nil
	}
	snap.Image = resp.Body()
	if len(snap.Image) == 0 && snap.URL == "" {
		return Snapshot{}, fmt.Errorf("chart: snapshot %s/%s: empty response", req.RefKind, req.RefID)
	}
	return snap, nil
}
