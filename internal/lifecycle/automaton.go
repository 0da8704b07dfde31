// Package lifecycle implements the setup state machine as a pure transition
// function. Callers own persistence and concurrency.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Event drives a setup. The concrete types are Observation, Deadline and
// Invalidate.
type Event interface {
	isEvent()
}

// Observation is a price update for the setup's symbol.
type Observation struct {
	Price float64
	High  float64
	Low   float64
	At    time.Time
}

// ObservationFrom converts a domain observation.
func ObservationFrom(o domain.PriceObservation) Observation {
	return Observation{Price: o.Price, High: o.High, Low: o.Low, At: o.ObservedAt}
}

func (o Observation) isBar() bool { return o.High > 0 && o.Low > 0 }

func (o Observation) bounds() (low, high float64) {
	return domain.PriceObservation{Price: o.Price, High: o.High, Low: o.Low}.Range()
}

// Deadline is emitted by the expiry sweep.
type Deadline struct {
	Now time.Time
}

// Invalidate cancels a pending setup by hand.
type Invalidate struct {
	At     time.Time
	Reason string
}

func (Observation) isEvent() {}
func (Deadline) isEvent()    {}
func (Invalidate) isEvent()  {}

// EffectKind names a side effect of a step.
type EffectKind string

const (
	EffectPriceRecorded EffectKind = "price_recorded"
	EffectEntered       EffectKind = "entered"
	EffectClosed        EffectKind = "closed"
)

// Effect is something the caller should act on after persisting the step.
type Effect struct {
	Kind    EffectKind
	At      time.Time
	Outcome domain.Outcome
	Reason  string
}

// Result is the outcome of applying one event.
type Result struct {
	Setup   domain.Setup
	From    domain.SetupStatus
	To      domain.SetupStatus
	Effects []Effect
}

// Transitioned reports whether the status changed.
func (r Result) Transitioned() bool { return r.From != r.To }

// Closed reports whether the step moved the setup to a terminal status.
func (r Result) Closed() bool { return r.Transitioned() && r.To.Terminal() }

// Changed reports whether anything needs persisting.
func (r Result) Changed() bool { return len(r.Effects) > 0 }

var transitions = map[domain.SetupStatus]map[domain.SetupStatus]bool{
	domain.SetupPending: {
		domain.SetupEntryHit: true,
		domain.SetupExpired:  true,
	},
	domain.SetupEntryHit: {
		domain.SetupStopHit: true,
		domain.SetupTPHit:   true,
	},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to domain.SetupStatus) bool {
	return transitions[from][to]
}

// NewSetup builds the pending setup for an executed decision.
func NewSetup(id string, d domain.Decision, createdAt time.Time, w Windows) domain.Setup {
	p := d.Proposal
	trigger := p.EntryTrigger
	if trigger == "" {
		trigger = domain.EntryAuto
	}
	return domain.Setup{
		ID:           id,
		DecisionID:   d.ID,
		Symbol:       p.Symbol,
		Side:         p.Side,
		Entry:        p.Entry,
		Stop:         p.Stop,
		Target:       p.Target,
		Confidence:   p.Confidence,
		Timeframe:    p.Timeframe,
		EntryTrigger: trigger,
		Status:       domain.SetupPending,
		ValidUntil:   createdAt.Add(w.For(p.Timeframe)),
		CreatedAt:    createdAt,
		Version:      1,
	}
}

// Step applies ev to s and returns the next state. It never mutates s.
// Events on terminal setups and events that make no sense for the current
// status return domain.ErrInvalidTransition; observations older than the
// last one seen return domain.ErrStaleObservation.
func Step(s domain.Setup, ev Event) (Result, error) {
	res := Result{Setup: s, From: s.Status, To: s.Status}
	if s.Status.Terminal() {
		return res, fmt.Errorf("%w: setup %s is %s", domain.ErrInvalidTransition, s.ID, s.Status)
	}

	var err error
	switch e := ev.(type) {
	case Observation:
		res, err = stepObservation(s, e)
	case Deadline:
		res, err = stepDeadline(s, e)
	case Invalidate:
		res, err = stepInvalidate(s, e)
	default:
		return res, fmt.Errorf("%w: unknown event %T", domain.ErrInvalidTransition, ev)
	}
	if err != nil {
		return Result{Setup: s, From: s.Status, To: s.Status}, err
	}

	if res.Transitioned() && !CanTransition(res.From, res.To) {
		return Result{Setup: s, From: s.Status, To: s.Status},
			fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, res.From, res.To)
	}
	if err := CheckConsistency(res.Setup); err != nil {
		return Result{Setup: s, From: s.Status, To: s.Status}, err
	}
	return res, nil
}

func stepObservation(s domain.Setup, o Observation) (Result, error) {
	if o.At.Before(s.CreatedAt) || (s.LastCheckedAt != nil && o.At.Before(*s.LastCheckedAt)) {
		return Result{}, fmt.Errorf("%w: %s at %s", domain.ErrStaleObservation, s.ID, o.At.Format(time.RFC3339Nano))
	}

	prev := s.LastPrice
	next := s
	price, at := o.Price, o.At
	next.LastPrice = &price
	next.LastCheckedAt = &at

	res := Result{
		From:    s.Status,
		To:      s.Status,
		Effects: []Effect{{Kind: EffectPriceRecorded, At: o.At}},
	}

	switch s.Status {
	case domain.SetupPending:
		switch {
		case !o.At.Before(s.ValidUntil):
			settle(&next, domain.SetupExpired, domain.OutcomeMissed, s.ValidUntil, nil)
		case entryCrossed(s, prev, o):
			next.Status = domain.SetupEntryHit
			next.EntryHitAt = &at
			res.Effects = append(res.Effects, Effect{Kind: EffectEntered, At: at})
		case stopBreached(s, o):
			settle(&next, domain.SetupExpired, domain.OutcomeInvalidated, at, nil)
		}

	case domain.SetupEntryHit:
		low, high := o.bounds()
		var stopHit, targetHit bool
		if s.Side == domain.SideShort {
			stopHit, targetHit = high >= s.Stop, low <= s.Target
		} else {
			stopHit, targetHit = low <= s.Stop, high >= s.Target
		}
		switch {
		case stopHit:
			exit := exitPrice(o, s.Stop)
			next.StopHitAt = &at
			settle(&next, domain.SetupStopHit, domain.OutcomeLoss, at, &exit)
		case targetHit:
			exit := exitPrice(o, s.Target)
			next.TargetHitAt = &at
			settle(&next, domain.SetupTPHit, domain.OutcomeWin, at, &exit)
		}
	}

	res.Setup = next
	res.To = next.Status
	if res.Closed() {
		res.Effects = append(res.Effects, Effect{Kind: EffectClosed, At: *next.ClosedAt, Outcome: *next.Outcome})
	}
	return res, nil
}

func stepDeadline(s domain.Setup, d Deadline) (Result, error) {
	if s.Status != domain.SetupPending {
		return Result{}, fmt.Errorf("%w: deadline on %s setup %s", domain.ErrInvalidTransition, s.Status, s.ID)
	}
	if d.Now.Before(s.ValidUntil) {
		return Result{Setup: s, From: s.Status, To: s.Status}, nil
	}
	next := s
	settle(&next, domain.SetupExpired, domain.OutcomeMissed, s.ValidUntil, nil)
	return Result{
		Setup:   next,
		From:    s.Status,
		To:      next.Status,
		Effects: []Effect{{Kind: EffectClosed, At: s.ValidUntil, Outcome: domain.OutcomeMissed, Reason: "validity window elapsed"}},
	}, nil
}

func stepInvalidate(s domain.Setup, inv Invalidate) (Result, error) {
	if s.Status != domain.SetupPending {
		return Result{}, fmt.Errorf("%w: cannot invalidate %s setup %s", domain.ErrInvalidTransition, s.Status, s.ID)
	}
	next := s
	settle(&next, domain.SetupExpired, domain.OutcomeInvalidated, inv.At, nil)
	return Result{
		Setup:   next,
		From:    s.Status,
		To:      next.Status,
		Effects: []Effect{{Kind: EffectClosed, At: inv.At, Outcome: domain.OutcomeInvalidated, Reason: inv.Reason}},
	}, nil
}

// entryCrossed reports whether o triggers entry for a pending setup.
func entryCrossed(s domain.Setup, prev *float64, o Observation) bool {
	low, high := o.bounds()
	switch s.EntryTrigger {
	case domain.EntryAtOrBelow:
		return low <= s.Entry
	case domain.EntryAtOrAbove:
		return high >= s.Entry
	}
	if low <= s.Entry && s.Entry <= high {
		return true
	}
	if prev == nil {
		return false
	}
	return (*prev < s.Entry && high >= s.Entry) || (*prev > s.Entry && low <= s.Entry)
}

// stopBreached reports whether a pending setup's stop traded before entry.
func stopBreached(s domain.Setup, o Observation) bool {
	low, high := o.bounds()
	if s.Side == domain.SideShort {
		return high >= s.Stop
	}
	return low <= s.Stop
}

// exitPrice is the traded price for ticks and the crossed level for bars.
func exitPrice(o Observation, level float64) float64 {
	if o.isBar() {
		return level
	}
	return o.Price
}

// settle sets status, outcome and closed_at together.
func settle(s *domain.Setup, status domain.SetupStatus, outcome domain.Outcome, at time.Time, exit *float64) {
	s.Status = status
	s.Outcome = &outcome
	s.ClosedAt = &at
	if exit != nil {
		pnl := PnLPercent(s.Side, s.Entry, *exit)
		s.ExitPrice = exit
		s.PnLPercent = &pnl
	}
}

// PnLPercent is ((exit-entry)/entry)*100, negated for shorts, rounded to four
// decimal places.
func PnLPercent(side domain.Side, entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	e := decimal.NewFromFloat(entry)
	pnl := decimal.NewFromFloat(exit).Sub(e).Div(e).Mul(decimal.NewFromInt(100))
	if side == domain.SideShort {
		pnl = pnl.Neg()
	}
	return pnl.Round(4).InexactFloat64()
}
