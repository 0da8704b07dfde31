package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Side is the direction of a proposed trade.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// EntryTrigger says which way price must move through the entry level for a
// pending setup to be considered entered.
type EntryTrigger string

const (
	// EntryAuto treats any touch of the entry level, or a move across it since
	// the previous observation, as an entry.
	EntryAuto EntryTrigger = "auto"
	// EntryAtOrBelow fires when price trades at or below entry (pullback).
	EntryAtOrBelow EntryTrigger = "at_or_below"
	// EntryAtOrAbove fires when price trades at or above entry (breakout).
	EntryAtOrAbove EntryTrigger = "at_or_above"
)

// Valid reports whether t is a known trigger. The empty trigger is valid and
// means EntryAuto.
func (t EntryTrigger) Valid() bool {
	switch t {
	case "", EntryAuto, EntryAtOrBelow, EntryAtOrAbove:
		return true
	}
	return false
}

// TradeProposal is a candidate trade submitted for evaluation. It is immutable
// once submitted.
type TradeProposal struct {
	ID           string            `json:"id"`
	Symbol       string            `json:"symbol"`
	Side         Side              `json:"side"`
	Entry        float64           `json:"entry"`
	Stop         float64           `json:"stop"`
	Target       float64           `json:"target"`
	Confidence   float64           `json:"confidence"`
	Timeframe    string            `json:"timeframe"`
	EntryTrigger EntryTrigger      `json:"entry_trigger,omitempty"`
	Context      map[string]string `json:"context,omitempty"`
	SubmittedAt  time.Time         `json:"submitted_at"`
}

// Validate rejects malformed proposals. Every returned error wraps
// ErrInvalidProposal.
func (p TradeProposal) Validate() error {
	var problems []string

	if strings.TrimSpace(p.Symbol) == "" {
		problems = append(problems, "symbol is required")
	}
	if !p.Side.Valid() {
		problems = append(problems, fmt.Sprintf("unknown side %q", p.Side))
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"entry", p.Entry}, {"stop", p.Stop}, {"target", p.Target}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v <= 0 {
			problems = append(problems, f.name+" must be a positive price")
		}
	}
	if p.Confidence < 0 || p.Confidence > 1 || math.IsNaN(p.Confidence) {
		problems = append(problems, "confidence must be within [0, 1]")
	}
	if !p.EntryTrigger.Valid() {
		problems = append(problems, fmt.Sprintf("unknown entry_trigger %q", p.EntryTrigger))
	}

	if len(problems) == 0 {
		if p.Entry == p.Stop {
			problems = append(problems, "entry and stop must differ")
		} else if p.Side.Valid() {
			sign := p.Side.Sign()
			if (p.Entry-p.Stop)*sign < 0 {
				problems = append(problems, fmt.Sprintf("stop must be on the losing side of entry for a %s", p.Side))
			}
			if (p.Target-p.Entry)*sign < 0 {
				problems = append(problems, fmt.Sprintf("target must be on the winning side of entry for a %s", p.Side))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProposal, strings.Join(problems, "; "))
	}
	return nil
}

// RiskReward returns |target-entry| / |entry-stop|, or 0 when the risk leg is
// zero.
func (p TradeProposal) RiskReward() float64 {
	risk := math.Abs(p.Entry - p.Stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(p.Target-p.Entry) / risk
}
