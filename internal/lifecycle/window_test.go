package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

func TestWindows_For(t *testing.T) {
	t.Parallel()

	w := DefaultWindows()
	tests := []struct {
		timeframe string
		want      time.Duration
	}{
		{"tick", 6 * time.Hour},
		{"1m", 6 * time.Hour},
		{"15min", 6 * time.Hour},
		{"M15", 6 * time.Hour},
		{"30m", 48 * time.Hour},
		{"1h", 48 * time.Hour},
		{"H4", 48 * time.Hour},
		{"4h", 48 * time.Hour},
		{"12h", 48 * time.Hour},
		{"1d", 120 * time.Hour},
		{"D1", 120 * time.Hour},
		{"1w", 120 * time.Hour},
		{"MN1", 120 * time.Hour},
		{"", 24 * time.Hour},
		{"whenever", 24 * time.Hour},
		{"0h", 24 * time.Hour},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.timeframe, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, w.For(tt.timeframe))
		})
	}
}

func TestWindows_ZeroValueUsesDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 48*time.Hour, Windows{}.For("1h"))
	assert.Equal(t, 2*time.Hour, Windows{Intraday: 2 * time.Hour}.For("5m"))
}

func TestParseTimeframe(t *testing.T) {
	t.Parallel()

	d, ok := ParseTimeframe(" H1 ")
	require.True(t, ok)
	assert.Equal(t, time.Hour, d)

	d, ok = ParseTimeframe("tick")
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), d)

	_, ok = ParseTimeframe("h")
	assert.False(t, ok)
}

func TestCheckConsistency(t *testing.T) {
	t.Parallel()

	s := daxSetup()
	require.NoError(t, CheckConsistency(s))

	loss := domain.OutcomeLoss
	broken := s
	broken.Outcome = &loss
	err := CheckConsistency(broken)
	assert.ErrorIs(t, err, domain.ErrInconsistentSetup)
}

func TestVerify_StrictFailsRepairFixes(t *testing.T) {
	t.Parallel()

	hit := t0.Add(time.Hour)
	loss := domain.OutcomeLoss
	broken := daxSetup()
	broken.Status = domain.SetupStopHit
	broken.EntryHitAt = &t0
	broken.StopHitAt = &hit
	broken.Outcome = &loss

	_, _, err := Verify(broken, true)
	assert.ErrorIs(t, err, domain.ErrInconsistentSetup)

	fixed, fixes, err := Verify(broken, false)
	require.NoError(t, err)
	assert.NotEmpty(t, fixes)
	require.NotNil(t, fixed.ClosedAt)
	assert.Equal(t, hit, *fixed.ClosedAt)
	assert.Equal(t, domain.OutcomeLoss, *fixed.Outcome)
}

func TestRepair_BothHitsKeepsStop(t *testing.T) {
	t.Parallel()

	at := t0.Add(time.Hour)
	s := daxSetup()
	s.StopHitAt = &at
	s.TargetHitAt = &at

	fixed, fixes := Repair(s)
	assert.NotNil(t, fixed.StopHitAt)
	assert.Nil(t, fixed.TargetHitAt)
	assert.Len(t, fixes, 1)
}

func TestRepair_OpenSetupWithClosedAt(t *testing.T) {
	t.Parallel()

	at := t0.Add(time.Hour)
	s := daxSetup()
	s.ClosedAt = &at

	fixed, _ := Repair(s)
	assert.Nil(t, fixed.ClosedAt)
	assert.NoError(t, CheckConsistency(fixed))
}

func TestRepair_ClearsOutcomeOnOpenSetupWithoutClosedAt(t *testing.T) {
	t.Parallel()

	missed := domain.OutcomeMissed
	s := daxSetup()
	s.Outcome = &missed

	fixed, fixes, err := Verify(s, false)
	require.NoError(t, err)
	assert.Equal(t, domain.SetupPending, fixed.Status)
	assert.Nil(t, fixed.Outcome)
	assert.Nil(t, fixed.ClosedAt)
	assert.Equal(t, []string{"cleared outcome on open setup without closed_at"}, fixes)
}
