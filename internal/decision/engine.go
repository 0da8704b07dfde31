// Package decision turns a proposal and its risk context into a Decision.
package decision

import (
	"math"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Reasons attached to each action.
const (
	ReasonEventWindow  = "high-impact event window"
	ReasonLowRR        = "insufficient reward-to-risk"
	ReasonLowBias      = "bias score too low"
	ReasonExposureCap  = "exposure cap reached"
	ReasonChecksPassed = "all checks passed"
)

const (
	defaultMinRR        = 1.5
	defaultMinBias      = 0.4
	defaultExposureCap  = 0.05
	riskRewardPrecision = 1e4
)

// Config holds the decision thresholds.
type Config struct {
	MinRiskReward float64
	MinBiasScore  float64
	ExposureCap   float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinRiskReward: defaultMinRR,
		MinBiasScore:  defaultMinBias,
		ExposureCap:   defaultExposureCap,
	}
}

// Engine applies the decision rules. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	cfg   Config
	newID func() string
	now   func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithIDFunc sets the decision ID generator.
func WithIDFunc(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// WithClock sets the clock used for DecidedAt.
func WithClock(f func() time.Time) Option {
	return func(e *Engine) { e.now = f }
}

// NewEngine creates an Engine. A non-positive MinRiskReward or ExposureCap
// and a negative MinBiasScore fall back to defaults. MinBiasScore of zero
// never waits.
func NewEngine(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.MinRiskReward <= 0 {
		cfg.MinRiskReward = def.MinRiskReward
	}
	if cfg.MinBiasScore < 0 {
		cfg.MinBiasScore = def.MinBiasScore
	}
	if cfg.ExposureCap <= 0 {
		cfg.ExposureCap = def.ExposureCap
	}
	e := &Engine{
		cfg:   cfg,
		newID: func() string { return "" },
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the effective thresholds.
func (e *Engine) Config() Config {
	return e.cfg
}

// Decide evaluates p against rc. Malformed proposals return an error wrapping
// domain.ErrInvalidProposal; every other input yields exactly one Decision.
// The first matching rule wins: event window, reward-to-risk, bias, exposure.
func (e *Engine) Decide(p domain.TradeProposal, rc domain.RiskContext) (domain.Decision, error) {
	if err := p.Validate(); err != nil {
		return domain.Decision{}, err
	}

	d := domain.Decision{
		ID:         e.newID(),
		Proposal:   p,
		BiasScore:  rc.BiasScore,
		RiskReward: math.Round(p.RiskReward()*riskRewardPrecision) / riskRewardPrecision,
		Risk:       rc,
		DecidedAt:  e.now(),
	}

	switch {
	case rc.HighRiskEvent:
		d.Action, d.Reason = domain.ActionHalt, ReasonEventWindow
	case d.RiskReward < e.cfg.MinRiskReward:
		d.Action, d.Reason = domain.ActionReject, ReasonLowRR
	case rc.BiasScore < e.cfg.MinBiasScore:
		d.Action, d.Reason = domain.ActionWait, ReasonLowBias
	case rc.Exposure > e.cfg.ExposureCap:
		d.Action, d.Reason = domain.ActionReduce, ReasonExposureCap
		d.SizeReduction = SizeReduction(rc.Exposure, e.cfg.ExposureCap)
	default:
		d.Action, d.Reason = domain.ActionExecute, ReasonChecksPassed
	}
	return d, nil
}

// SizeReduction is the fraction by which a position should shrink to bring
// exposure back under the cap.
func SizeReduction(exposure, limit float64) float64 {
	if exposure <= 0 || exposure <= limit {
		return 0
	}
	r := (exposure - limit) / exposure
	return math.Round(math.Min(1, r)*riskRewardPrecision) / riskRewardPrecision
}
