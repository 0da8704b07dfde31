package domain

import "time"

// SetupStatus is the lifecycle state of a setup.
type SetupStatus string

const (
	SetupPending  SetupStatus = "pending"
	SetupEntryHit SetupStatus = "entry_hit"
	SetupStopHit  SetupStatus = "sl_hit"
	SetupTPHit    SetupStatus = "tp_hit"
	SetupExpired  SetupStatus = "expired"
)

// Terminal reports whether no further price-driven transition is possible.
func (s SetupStatus) Terminal() bool {
	return s == SetupStopHit || s == SetupTPHit || s == SetupExpired
}

// Open reports whether the setup still receives price observations.
func (s SetupStatus) Open() bool {
	return s == SetupPending || s == SetupEntryHit
}

// Outcome is the final classification of a closed setup.
type Outcome string

const (
	OutcomeWin         Outcome = "win"
	OutcomeLoss        Outcome = "loss"
	OutcomeInvalidated Outcome = "invalidated"
	OutcomeMissed      Outcome = "missed"
)

// Setup is an accepted proposal tracked from creation to its final outcome.
// Only the lifecycle automaton mutates it, and Version increments on every
// persisted change.
type Setup struct {
	ID           string       `json:"id"`
	DecisionID   string       `json:"decision_id"`
	Symbol       string       `json:"symbol"`
	Side         Side         `json:"side"`
	Entry        float64      `json:"entry"`
	Stop         float64      `json:"stop"`
	Target       float64      `json:"target"`
	Confidence   float64      `json:"confidence"`
	Timeframe    string       `json:"timeframe"`
	EntryTrigger EntryTrigger `json:"entry_trigger"`
	Status       SetupStatus  `json:"status"`

	EntryHitAt  *time.Time `json:"entry_hit_at,omitempty"`
	StopHitAt   *time.Time `json:"stop_hit_at,omitempty"`
	TargetHitAt *time.Time `json:"target_hit_at,omitempty"`

	Outcome    *Outcome `json:"outcome,omitempty"`
	ExitPrice  *float64 `json:"exit_price,omitempty"`
	PnLPercent *float64 `json:"pnl_percent,omitempty"`

	LastPrice     *float64   `json:"last_price,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`

	ValidUntil time.Time  `json:"valid_until"`
	CreatedAt  time.Time  `json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	Version    int64      `json:"version"`
}

// PriceObservation is one price update for a symbol. High and Low are set
// for bar observations; a tick leaves them zero.
type PriceObservation struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	High       float64   `json:"high,omitempty"`
	Low        float64   `json:"low,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// IsBar reports whether the observation carries a price range.
func (o PriceObservation) IsBar() bool {
	return o.High > 0 && o.Low > 0
}

// Range returns the low and high covered by the observation.
func (o PriceObservation) Range() (low, high float64) {
	if !o.IsBar() {
		return o.Price, o.Price
	}
	low, high = o.Low, o.High
	if low > high {
		low, high = high, low
	}
	return low, high
}

// PricePoint is a stored observation used to reconstruct a realized path.
type PricePoint struct {
	Price float64   `json:"price"`
	High  float64   `json:"high,omitempty"`
	Low   float64   `json:"low,omitempty"`
	At    time.Time `json:"at"`
}
