package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Config bounds how hard the Attacher leans on the chart service.
type Config struct {
	DailyQuota     int
	BurstPerSecond int
	MaxInFlight    int
	RequestTimeout time.Duration
	// CachePrefix is the blob key prefix for stored images.
	CachePrefix string
}

// DefaultConfig mirrors the service's published limits.
func DefaultConfig() Config {
	return Config{
		DailyQuota:     500,
		BurstPerSecond: 2,
		MaxInFlight:    4,
		RequestTimeout: 15 * time.Second,
		CachePrefix:    "charts",
	}
}

// Blob is the object storage the Attacher caches images in.
type Blob interface {
	domain.BlobWriter
	domain.BlobReader
}

// Attacher requests snapshots and records a ChartAttachment for every
// attempt. Failures become "missing" attachments and never reach callers.
type Attacher struct {
	cfg     Config
	client  Snapshotter
	limiter domain.RateLimiter
	blob    Blob
	store   domain.AttachmentStore
	logger  *slog.Logger
	now     func() time.Time

	group    singleflight.Group
	inFlight chan struct{}
	wg       sync.WaitGroup
}

// NewAttacher wires an Attacher. blob may be nil, in which case only URLs
// returned by the service are attached.
func NewAttacher(cfg Config, client Snapshotter, limiter domain.RateLimiter, blob Blob, store domain.AttachmentStore, logger *slog.Logger) *Attacher {
	def := DefaultConfig()
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = def.CachePrefix
	}
	return &Attacher{
		cfg:      cfg,
		client:   client,
		limiter:  limiter,
		blob:     blob,
		store:    store,
		logger:   logger.With(slog.String("component", "chart")),
		now:      func() time.Time { return time.Now().UTC() },
		inFlight: make(chan struct{}, cfg.MaxInFlight),
	}
}

// Request attaches a chart in the background. When MaxInFlight requests are
// already running the request is recorded as missing straight away.
func (a *Attacher) Request(req Request) {
	select {
	case a.inFlight <- struct{}{}:
	default:
		a.recordMissing(context.Background(), req, errors.New("chart: too many requests in flight"))
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.inFlight }()
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
		defer cancel()
		_, _ = a.Attach(ctx, req)
	}()
}

// Wait blocks until background requests finish.
func (a *Attacher) Wait() {
	a.wg.Wait()
}

// Attach runs one request synchronously. Concurrent calls for the same
// reference share a single upstream call. The returned error is only set
// when the attachment itself could not be recorded.
func (a *Attacher) Attach(ctx context.Context, req Request) (domain.ChartAttachment, error) {
	v, err, _ := a.group.Do(req.RefKind+":"+req.RefID, func() (any, error) {
		return a.attach(ctx, req)
	})
	if err != nil {
		return domain.ChartAttachment{}, err
	}
	return v.(domain.ChartAttachment), nil
}

func (a *Attacher) attach(ctx context.Context, req Request) (domain.ChartAttachment, error) {
	key := a.objectKey(req)

	if a.blob != nil {
		ok, err := a.blob.Exists(ctx, key)
		if err != nil {
			a.logger.WarnContext(ctx, "chart cache lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		} else if ok {
			return a.record(ctx, req, domain.AttachmentCached, a.blob.URL(key), "")
		}
	}

	if err := a.admit(ctx); err != nil {
		return a.recordMissing(ctx, req, err)
	}

	snap, err := a.client.Snapshot(ctx, req)
	if err != nil {
		return a.recordMissing(ctx, req, err)
	}

	url := snap.URL
	if len(snap.Image) > 0 && a.blob != nil {
		ct := snap.ContentType
		if ct == "" {
			ct = "image/png"
		}
		if err := a.blob.Put(ctx, key, bytes.NewReader(snap.Image), ct); err != nil {
			a.logger.WarnContext(ctx, "chart upload failed", slog.String("key", key), slog.String("error", err.Error()))
		} else {
			url = a.blob.URL(key)
		}
	}
	if url == "" {
		return a.recordMissing(ctx, req, errors.New("chart: no storage for image"))
	}

	status := domain.AttachmentAttached
	if snap.Cached {
		status = domain.AttachmentCached
	}
	return a.record(ctx, req, status, url, "")
}

// admit applies the local quota guard before calling out.
func (a *Attacher) admit(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	if a.cfg.BurstPerSecond > 0 {
		ok, err := a.limiter.Allow(ctx, "chart:burst", a.cfg.BurstPerSecond, time.Second)
		if err != nil {
			return fmt.Errorf("chart: burst guard: %w", err)
		}
		if !ok {
			return fmt.Errorf("chart: burst cap reached: %w", domain.ErrRateLimited)
		}
	}
	if a.cfg.DailyQuota > 0 {
		ok, err := a.limiter.Allow(ctx, "chart:daily", a.cfg.DailyQuota, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("chart: quota guard: %w", err)
		}
		if !ok {
			return fmt.Errorf("chart: daily quota exhausted: %w", domain.ErrQuotaExceeded)
		}
	}
	return nil
}

func (a *Attacher) objectKey(req Request) string {
	return path.Join(a.cfg.CachePrefix, req.RefKind, req.RefID+".png")
}

func (a *Attacher) recordMissing(ctx context.Context, req Request, cause error) (domain.ChartAttachment, error) {
	a.logger.WarnContext(ctx, "chart unavailable",
		slog.String("ref_kind", req.RefKind),
		slog.String("ref_id", req.RefID),
		slog.String("error", cause.Error()),
	)
	return a.record(ctx, req, domain.AttachmentMissing, "", cause.Error())
}

func (a *Attacher) record(ctx context.Context, req Request, status domain.AttachmentStatus, url, errText string) (domain.ChartAttachment, error) {
	att := domain.ChartAttachment{
		ID:        uuid.NewString(),
		RefKind:   req.RefKind,
		RefID:     req.RefID,
		Status:    status,
		URL:       url,
		Error:     errText,
		CreatedAt: a.now(),
	}
	// Recording must outlive a request context that timed out upstream.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.Create(writeCtx, att); err != nil {
		return domain.ChartAttachment{}, fmt.Errorf("chart: record attachment: %w", err)
	}
	return att, nil
}
