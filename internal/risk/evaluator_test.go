package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func longDAX() domain.TradeProposal {
	return domain.TradeProposal{Symbol: "DAX", Side: domain.SideLong, Entry: 19500, Stop: 19450, Target: 19600, Timeframe: "1h"}
}

func TestTrendAlignment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		side  domain.Side
		trend float64
		want  float64
	}{
		{"long with strong uptrend", domain.SideLong, 1, 1},
		{"long against downtrend", domain.SideLong, -1, 0},
		{"short with downtrend", domain.SideShort, -1, 1},
		{"neutral", domain.SideShort, 0, 0.5},
		{"clamped", domain.SideLong, 3, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, TrendAlignment(tt.side, tt.trend), 1e-12)
		})
	}
}

func TestVolatilityScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		recent     float64
		historical float64
		wantScore  float64
		wantRegime domain.VolatilityRegime
	}{
		{"no history", 0.01, 0, 0.5, domain.VolatilityUnknown},
		{"calm", 0.005, 0.01, 1, domain.VolatilityLow},
		{"average", 0.01, 0.01, 1, domain.VolatilityNormal},
		{"elevated", 0.015, 0.01, 1 / 1.5, domain.VolatilityHigh},
		{"extreme", 0.04, 0.01, 0.25, domain.VolatilityExtreme},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			score, regime := VolatilityScore(tt.recent, tt.historical)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			assert.Equal(t, tt.wantRegime, regime)
		})
	}
}

func TestEvaluator_BiasScore(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(DefaultConfig())

	rc := e.Evaluate(Inputs{
		Proposal:             longDAX(),
		Now:                  now,
		Trend:                0.5,
		RecentVolatility:     0.02,
		HistoricalVolatility: 0.01,
		Exposure:             0.02,
	})

	// 0.6*0.75 + 0.4*0.5
	assert.InDelta(t, 0.65, rc.BiasScore, 1e-9)
	assert.Equal(t, domain.VolatilityHigh, rc.VolatilityRegime)
	assert.Equal(t, 0.02, rc.Exposure)
	assert.False(t, rc.HighRiskEvent)
	assert.Equal(t, now, rc.EvaluatedAt)
}

func TestEvaluator_WeightsAreNormalized(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(Config{TrendWeight: 3, VolatilityWeight: 1})
	rc := e.Evaluate(Inputs{Proposal: longDAX(), Now: now, Trend: 1, RecentVolatility: 0.01, HistoricalVolatility: 0.01})
	assert.InDelta(t, 1.0, rc.BiasScore, 1e-9)

	rc = e.Evaluate(Inputs{Proposal: longDAX(), Now: now, Trend: -1, RecentVolatility: 0.01, HistoricalVolatility: 0.01})
	assert.InDelta(t, 0.25, rc.BiasScore, 1e-9)
}

func TestEvaluator_HighRiskEvent(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(DefaultConfig())

	tests := []struct {
		name   string
		events []domain.CalendarEvent
		want   bool
	}{
		{"none", nil, false},
		{"inside lookahead", []domain.CalendarEvent{
			{Name: "ECB rate decision", Impact: domain.ImpactHigh, ScheduledAt: now.Add(20 * time.Minute)},
		}, true},
		{"at lookahead edge", []domain.CalendarEvent{
			{Name: "NFP", Impact: domain.ImpactHigh, ScheduledAt: now.Add(30 * time.Minute)},
		}, true},
		{"beyond lookahead", []domain.CalendarEvent{
			{Name: "NFP", Impact: domain.ImpactHigh, ScheduledAt: now.Add(31 * time.Minute)},
		}, false},
		{"already past", []domain.CalendarEvent{
			{Name: "CPI", Impact: domain.ImpactHigh, ScheduledAt: now.Add(-time.Minute)},
		}, false},
		{"medium impact ignored", []domain.CalendarEvent{
			{Name: "PMI", Impact: domain.ImpactMedium, ScheduledAt: now.Add(5 * time.Minute)},
		}, false},
		{"other symbol", []domain.CalendarEvent{
			{Name: "FOMC", Impact: domain.ImpactHigh, Symbols: []string{"SPX"}, ScheduledAt: now.Add(5 * time.Minute)},
		}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rc := e.Evaluate(Inputs{Proposal: longDAX(), Now: now, Events: tt.events})
			assert.Equal(t, tt.want, rc.HighRiskEvent)
			if tt.want {
				assert.NotEmpty(t, rc.EventName)
			}
		})
	}
}

func TestEvaluator_Deterministic(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(DefaultConfig())
	events := []domain.CalendarEvent{
		{Name: "B", Impact: domain.ImpactHigh, ScheduledAt: now.Add(10 * time.Minute)},
		{Name: "A", Impact: domain.ImpactHigh, ScheduledAt: now.Add(10 * time.Minute)},
	}
	in := Inputs{Proposal: longDAX(), Now: now, Events: events, Trend: 0.3, RecentVolatility: 0.012, HistoricalVolatility: 0.01}

	first := e.Evaluate(in)
	in.Events = []domain.CalendarEvent{events[1], events[0]}
	second := e.Evaluate(in)

	assert.Equal(t, first, second)
	assert.Equal(t, "A", first.EventName)
}
