// Package risk computes the point-in-time risk context for a trade proposal.
package risk

import (
	"math"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Config holds the tunable parameters of the evaluator.
type Config struct {
	TrendWeight      float64
	VolatilityWeight float64
	EventLookahead   time.Duration
	EventGrace       time.Duration
}

// DefaultConfig returns the evaluator defaults.
func DefaultConfig() Config {
	return Config{
		TrendWeight:      0.6,
		VolatilityWeight: 0.4,
		EventLookahead:   30 * time.Minute,
	}
}

// Inputs is everything the evaluator looks at. Callers gather it; the
// evaluator itself performs no I/O.
type Inputs struct {
	Proposal domain.TradeProposal
	Now      time.Time
	Exposure float64
	Events   []domain.CalendarEvent
	// Trend is the higher-timeframe directional signal in [-1, 1].
	Trend float64
	// RecentVolatility and HistoricalVolatility are realized volatilities in
	// the same unit. A zero historical value means no history.
	RecentVolatility     float64
	HistoricalVolatility float64
}

// Evaluator turns Inputs into a RiskContext. It is stateless and safe for
// concurrent use.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an Evaluator. Non-positive weights fall back to the
// defaults and the weights are normalized to sum to one.
func NewEvaluator(cfg Config) *Evaluator {
	def := DefaultConfig()
	if cfg.TrendWeight < 0 || cfg.VolatilityWeight < 0 || cfg.TrendWeight+cfg.VolatilityWeight <= 0 {
		cfg.TrendWeight, cfg.VolatilityWeight = def.TrendWeight, def.VolatilityWeight
	}
	sum := cfg.TrendWeight + cfg.VolatilityWeight
	cfg.TrendWeight /= sum
	cfg.VolatilityWeight /= sum
	if cfg.EventLookahead <= 0 {
		cfg.EventLookahead = def.EventLookahead
	}
	if cfg.EventGrace < 0 {
		cfg.EventGrace = 0
	}
	return &Evaluator{cfg: cfg}
}

// EventWindow returns the span around now in which calendar events matter.
func (e *Evaluator) EventWindow(now time.Time) (from, to time.Time) {
	return now.Add(-e.cfg.EventGrace), now.Add(e.cfg.EventLookahead)
}

// Evaluate computes the risk context for in.
func (e *Evaluator) Evaluate(in Inputs) domain.RiskContext {
	alignment := TrendAlignment(in.Proposal.Side, in.Trend)
	volScore, regime := VolatilityScore(in.RecentVolatility, in.HistoricalVolatility)

	bias := e.cfg.TrendWeight*alignment + e.cfg.VolatilityWeight*volScore

	rc := domain.RiskContext{
		BiasScore:        round4(clamp01(bias)),
		Exposure:         in.Exposure,
		VolatilityRegime: regime,
		TrendAlignment:   round4(alignment),
		VolatilityScore:  round4(volScore),
		EvaluatedAt:      in.Now,
	}

	if ev, ok := e.nextHighImpact(in.Proposal.Symbol, in.Now, in.Events); ok {
		rc.HighRiskEvent = true
		rc.EventName = ev.Name
	}
	return rc
}

// nextHighImpact returns the earliest high impact event for symbol inside the
// lookahead window. Ties on time are broken by name so the result does not
// depend on input order.
func (e *Evaluator) nextHighImpact(symbol string, now time.Time, events []domain.CalendarEvent) (domain.CalendarEvent, bool) {
	from, to := e.EventWindow(now)

	var (
		best  domain.CalendarEvent
		found bool
	)
	for _, ev := range events {
		if ev.Impact != domain.ImpactHigh || !ev.AppliesTo(symbol) {
			continue
		}
		if ev.ScheduledAt.Before(from) || ev.ScheduledAt.After(to) {
			continue
		}
		if !found || ev.ScheduledAt.Before(best.ScheduledAt) ||
			(ev.ScheduledAt.Equal(best.ScheduledAt) && ev.Name < best.Name) {
			best, found = ev, true
		}
	}
	return best, found
}

// TrendAlignment maps a trend signal in [-1, 1] to [0, 1] agreement with the
// proposal side. A neutral trend scores 0.5.
func TrendAlignment(side domain.Side, trend float64) float64 {
	if math.IsNaN(trend) {
		trend = 0
	}
	trend = math.Max(-1, math.Min(1, trend))
	return (1 + side.Sign()*trend) / 2
}

// VolatilityScore returns the inverse volatility ratio capped at one and the
// regime it implies. Volatility at or below its historical average scores 1.
func VolatilityScore(recent, historical float64) (float64, domain.VolatilityRegime) {
	if historical <= 0 || math.IsNaN(historical) || math.IsNaN(recent) {
		return 0.5, domain.VolatilityUnknown
	}
	if recent <= 0 {
		return 1, domain.VolatilityLow
	}

	ratio := recent / historical
	var regime domain.VolatilityRegime
	switch {
	case ratio < 0.75:
		regime = domain.VolatilityLow
	case ratio <= 1.25:
		regime = domain.VolatilityNormal
	case ratio <= 2.0:
		regime = domain.VolatilityHigh
	default:
		regime = domain.VolatilityExtreme
	}
	return clamp01(historical / recent), regime
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
