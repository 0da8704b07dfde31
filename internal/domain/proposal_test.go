package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLong() TradeProposal {
	return TradeProposal{
		Symbol:     "DAX",
		Side:       SideLong,
		Entry:      19500,
		Stop:       19450,
		Target:     19600,
		Confidence: 0.7,
		Timeframe:  "1h",
	}
}

func TestTradeProposal_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(p *TradeProposal)
		wantErr bool
	}{
		{"valid long", func(p *TradeProposal) {}, false},
		{"valid short", func(p *TradeProposal) {
			p.Side, p.Stop, p.Target = SideShort, 19550, 19400
		}, false},
		{"empty symbol", func(p *TradeProposal) { p.Symbol = " " }, true},
		{"unknown side", func(p *TradeProposal) { p.Side = "sideways" }, true},
		{"zero entry", func(p *TradeProposal) { p.Entry = 0 }, true},
		{"negative stop", func(p *TradeProposal) { p.Stop = -1 }, true},
		{"zero target", func(p *TradeProposal) { p.Target = 0 }, true},
		{"entry equals stop", func(p *TradeProposal) { p.Stop = p.Entry }, true},
		{"confidence above one", func(p *TradeProposal) { p.Confidence = 1.2 }, true},
		{"long stop above entry", func(p *TradeProposal) { p.Stop = 19550 }, true},
		{"long target below entry", func(p *TradeProposal) { p.Target = 19400 }, true},
		{"unknown trigger", func(p *TradeProposal) { p.EntryTrigger = "sometimes" }, true},
		{"explicit trigger", func(p *TradeProposal) { p.EntryTrigger = EntryAtOrAbove }, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validLong()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidProposal)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTradeProposal_RiskReward(t *testing.T) {
	t.Parallel()

	p := validLong()
	assert.InDelta(t, 2.0, p.RiskReward(), 1e-12)

	p.Stop = p.Entry
	assert.Equal(t, 0.0, p.RiskReward())
}

func TestPriceObservation_Range(t *testing.T) {
	t.Parallel()

	tick := PriceObservation{Price: 100}
	lo, hi := tick.Range()
	assert.Equal(t, 100.0, lo)
	assert.Equal(t, 100.0, hi)
	assert.False(t, tick.IsBar())

	bar := PriceObservation{Price: 100, High: 98, Low: 103}
	lo, hi = bar.Range()
	assert.Equal(t, 98.0, lo)
	assert.Equal(t, 103.0, hi)
}

func TestCalendarEvent_AppliesTo(t *testing.T) {
	t.Parallel()

	assert.True(t, CalendarEvent{}.AppliesTo("DAX"))
	assert.True(t, CalendarEvent{Symbols: []string{"*"}}.AppliesTo("DAX"))
	assert.True(t, CalendarEvent{Symbols: []string{"EURUSD", "DAX"}}.AppliesTo("DAX"))
	assert.False(t, CalendarEvent{Symbols: []string{"EURUSD"}}.AppliesTo("DAX"))
}
