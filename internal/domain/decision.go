package domain

import "time"

// VolatilityRegime tags the recent realized volatility relative to its
// historical average.
type VolatilityRegime string

const (
	VolatilityLow     VolatilityRegime = "low"
	VolatilityNormal  VolatilityRegime = "normal"
	VolatilityHigh    VolatilityRegime = "high"
	VolatilityExtreme VolatilityRegime = "extreme"
	VolatilityUnknown VolatilityRegime = "unknown"
)

// RiskContext is a point-in-time risk snapshot. It is only ever persisted
// embedded in the Decision it produced.
type RiskContext struct {
	BiasScore        float64          `json:"bias_score"`
	HighRiskEvent    bool             `json:"high_risk_event"`
	EventName        string           `json:"event_name,omitempty"`
	Exposure         float64          `json:"exposure"`
	VolatilityRegime VolatilityRegime `json:"volatility_regime"`
	TrendAlignment   float64          `json:"trend_alignment"`
	VolatilityScore  float64          `json:"volatility_score"`
	EvaluatedAt      time.Time        `json:"evaluated_at"`
}

// Action is the outcome of the decision engine.
type Action string

const (
	ActionExecute Action = "EXECUTE"
	ActionReject  Action = "REJECT"
	ActionWait    Action = "WAIT"
	ActionHalt    Action = "HALT"
	ActionReduce  Action = "REDUCE"
)

// Decision records how a proposal was judged. Decisions are never mutated;
// re-evaluating a proposal produces a new one.
type Decision struct {
	ID            string        `json:"id"`
	Proposal      TradeProposal `json:"proposal"`
	Action        Action        `json:"action"`
	Reason        string        `json:"reason"`
	BiasScore     float64       `json:"bias_score"`
	RiskReward    float64       `json:"risk_reward"`
	Risk          RiskContext   `json:"risk_context"`
	SizeReduction float64       `json:"size_reduction,omitempty"`
	SetupID       string        `json:"setup_id,omitempty"`
	DecidedAt     time.Time     `json:"decided_at"`
}
