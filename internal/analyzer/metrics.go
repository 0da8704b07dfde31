// Package analyzer turns a closed setup and its realized price path into a
// Lesson.
package analyzer

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Root-cause labels.
const (
	CauseAsPlanned        = "target reached as planned"
	CausePoorEntryTiming  = "entry timing poor"
	CauseTrendReversal    = "trend reversal not anticipated"
	CauseWrongDirection   = "direction wrong from entry"
	CauseStopTooTight     = "stop too tight for realized volatility"
	CauseNeverTriggered   = "entry never triggered"
	CauseInvalidatedEarly = "setup invalidated before entry"
)

// Classification thresholds, in R multiples of the planned stop distance.
const (
	poorEntryMAER     = 0.7
	reversalMFER      = 0.5
	tightStopAvgMoves = 2.0
)

// Metrics summarises how price actually behaved around a setup.
type Metrics struct {
	Entered bool `json:"entered"`
	Points  int  `json:"points"`

	MFEPercent float64 `json:"mfe_percent"`
	MAEPercent float64 `json:"mae_percent"`
	MFER       float64 `json:"mfe_r"`
	MAER       float64 `json:"mae_r"`

	TimeToEntrySeconds float64 `json:"time_to_entry_seconds,omitempty"`
	TimeInTradeSeconds float64 `json:"time_in_trade_seconds,omitempty"`

	StopDistance    float64 `json:"stop_distance"`
	AvgMove         float64 `json:"avg_move"`
	StopInAvgMoves  float64 `json:"stop_in_avg_moves,omitempty"`
	TargetAfterStop bool    `json:"target_after_stop"`
}

// ComputeMetrics measures s against path. path may extend past the close so
// that a target reached after the stop can be detected.
func ComputeMetrics(s domain.Setup, path []domain.PricePoint) Metrics {
	live := path
	if s.ClosedAt != nil {
		live = until(path, *s.ClosedAt)
	}
	m := Metrics{
		Entered:      s.EntryHitAt != nil,
		Points:       len(live),
		StopDistance: round4(math.Abs(s.Entry - s.Stop)),
		AvgMove:      round4(avgAbsMove(live)),
	}
	if m.AvgMove > 0 {
		m.StopInAvgMoves = round4(m.StopDistance / m.AvgMove)
	}
	if !m.Entered {
		return m
	}

	m.TimeToEntrySeconds = s.EntryHitAt.Sub(s.CreatedAt).Seconds()
	end := time.Time{}
	if s.ClosedAt != nil {
		end = *s.ClosedAt
		m.TimeInTradeSeconds = end.Sub(*s.EntryHitAt).Seconds()
	}

	sign := s.Side.Sign()
	var fav, adv float64
	for _, p := range path {
		if p.At.Before(*s.EntryHitAt) || (!end.IsZero() && p.At.After(end)) {
			continue
		}
		low, high := pointRange(p)
		best, worst := high, low
		if sign < 0 {
			best, worst = low, high
		}
		fav = math.Max(fav, sign*(best-s.Entry))
		adv = math.Max(adv, sign*(s.Entry-worst))
	}
	m.MFEPercent = round4(fav / s.Entry * 100)
	m.MAEPercent = round4(adv / s.Entry * 100)
	if risk := math.Abs(s.Entry - s.Stop); risk > 0 {
		m.MFER = round4(fav / risk)
		m.MAER = round4(adv / risk)
	}

	if s.Status == domain.SetupStopHit && s.StopHitAt != nil {
		for _, p := range path {
			if !p.At.After(*s.StopHitAt) {
				continue
			}
			low, high := pointRange(p)
			if (sign > 0 && high >= s.Target) || (sign < 0 && low <= s.Target) {
				m.TargetAfterStop = true
				break
			}
		}
	}
	return m
}

// Classify picks the root-cause label for s given m.
func Classify(s domain.Setup, m Metrics) string {
	if s.Outcome == nil {
		return ""
	}
	switch *s.Outcome {
	case domain.OutcomeMissed:
		return CauseNeverTriggered
	case domain.OutcomeInvalidated:
		return CauseInvalidatedEarly
	case domain.OutcomeWin:
		if m.MAER >= poorEntryMAER {
			return CausePoorEntryTiming
		}
		return CauseAsPlanned
	case domain.OutcomeLoss:
		if m.TargetAfterStop || (m.AvgMove > 0 && m.StopDistance < tightStopAvgMoves*m.AvgMove) {
			return CauseStopTooTight
		}
		if m.MFER >= reversalMFER {
			return CauseTrendReversal
		}
		return CauseWrongDirection
	}
	return ""
}

func pointRange(p domain.PricePoint) (low, high float64) {
	if p.High > 0 && p.Low > 0 {
		return math.Min(p.Low, p.High), math.Max(p.Low, p.High)
	}
	return p.Price, p.Price
}

// until returns the points of path observed at or before end.
func until(path []domain.PricePoint, end time.Time) []domain.PricePoint {
	out := make([]domain.PricePoint, 0, len(path))
	for _, p := range path {
		if !p.At.After(end) {
			out = append(out, p)
		}
	}
	return out
}

// avgAbsMove is the mean absolute tick-to-tick change in price.
func avgAbsMove(path []domain.PricePoint) float64 {
	if len(path) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(path); i++ {
		sum += math.Abs(path[i].Price - path[i-1].Price)
	}
	return sum / float64(len(path)-1)
}

func round4(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return f
}
