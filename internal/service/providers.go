package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/market"
)

// ExposureProvider estimates aggregate exposure from the number of open
// setups, each assumed to risk the same fraction of the account.
type ExposureProvider struct {
	setups       domain.SetupStore
	riskPerSetup float64
}

// NewExposureProvider creates an ExposureProvider.
func NewExposureProvider(setups domain.SetupStore, riskPerSetup float64) *ExposureProvider {
	if riskPerSetup <= 0 {
		riskPerSetup = 0.01
	}
	return &ExposureProvider{setups: setups, riskPerSetup: riskPerSetup}
}

// Exposure returns riskPerSetup times the open setup count.
func (p *ExposureProvider) Exposure(ctx context.Context) (float64, error) {
	n, err := p.setups.CountOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("exposure: count open setups: %w", err)
	}
	return p.riskPerSetup * float64(n), nil
}

// MarketSignalProvider reads trend and volatility from the price tracker.
type MarketSignalProvider struct {
	tracker *market.PriceTracker
}

// NewMarketSignalProvider creates a MarketSignalProvider.
func NewMarketSignalProvider(tracker *market.PriceTracker) *MarketSignalProvider {
	return &MarketSignalProvider{tracker: tracker}
}

// Signal returns the market signal for symbol. Without enough history the
// signal is neutral with zero historical volatility, which the evaluator
// reports as an unknown regime.
func (p *MarketSignalProvider) Signal(symbol string) market.Signal {
	sig, ok := p.tracker.Signal(symbol)
	if !ok {
		return market.Signal{Points: sig.Points}
	}
	return sig
}

// CalendarService manages scheduled economic events.
type CalendarService struct {
	store  domain.CalendarStore
	logger *slog.Logger
}

// NewCalendarService creates a CalendarService.
func NewCalendarService(store domain.CalendarStore, logger *slog.Logger) *CalendarService {
	return &CalendarService{store: store, logger: logger.With(slog.String("component", "calendar"))}
}

// Upsert validates and stores ev, assigning an ID when missing.
func (s *CalendarService) Upsert(ctx context.Context, ev domain.CalendarEvent) (domain.CalendarEvent, error) {
	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		return domain.CalendarEvent{}, fmt.Errorf("calendar: name is required: %w", domain.ErrInvalidProposal)
	}
	if ev.ScheduledAt.IsZero() {
		return domain.CalendarEvent{}, fmt.Errorf("calendar: scheduled_at is required: %w", domain.ErrInvalidProposal)
	}
	switch ev.Impact {
	case domain.ImpactHigh, domain.ImpactMedium, domain.ImpactLow:
	case "":
		ev.Impact = domain.ImpactHigh
	default:
		return domain.CalendarEvent{}, fmt.Errorf("calendar: unknown impact %q: %w", ev.Impact, domain.ErrInvalidProposal)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.ScheduledAt = ev.ScheduledAt.UTC()
	if err := s.store.Upsert(ctx, ev); err != nil {
		return domain.CalendarEvent{}, fmt.Errorf("calendar: upsert %s: %w", ev.Name, err)
	}
	return ev, nil
}

// List returns events scheduled in [from, to].
func (s *CalendarService) List(ctx context.Context, from, to time.Time) ([]domain.CalendarEvent, error) {
	evs, err := s.store.Between(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("calendar: list: %w", err)
	}
	return evs, nil
}

// Seed upserts configured events. It stops at the first invalid one.
func (s *CalendarService) Seed(ctx context.Context, events []domain.CalendarEvent) error {
	for _, ev := range events {
		if ev.ID == "" {
			// Stable IDs keep restarts from duplicating seeded events.
			key := ev.Name + "|" + ev.ScheduledAt.UTC().Format(time.RFC3339)
			ev.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
		}
		if _, err := s.Upsert(ctx, ev); err != nil {
			return err
		}
	}
	if len(events) > 0 {
		s.logger.InfoContext(ctx, "calendar seeded", slog.Int("events", len(events)))
	}
	return nil
}
