package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Analysis is the raw payload stored with each Lesson.
type Analysis struct {
	Status     domain.SetupStatus `json:"status"`
	Outcome    domain.Outcome     `json:"outcome"`
	PnLPercent *float64           `json:"pnl_percent,omitempty"`
	RootCause  string             `json:"root_cause"`
	Metrics    Metrics            `json:"metrics"`
}

// Analyzer produces Lessons. It holds no per-setup state.
type Analyzer struct {
	summarizer Summarizer
	now        func() time.Time
}

// New creates an Analyzer; a nil summarizer means RuleSummarizer.
func New(s Summarizer) *Analyzer {
	if s == nil {
		s = RuleSummarizer{}
	}
	return &Analyzer{summarizer: s, now: func() time.Time { return time.Now().UTC() }}
}

// Analyze builds the Lesson for a closed setup.
func (a *Analyzer) Analyze(ctx context.Context, s domain.Setup, path []domain.PricePoint) (domain.Lesson, error) {
	if !s.Status.Terminal() || s.Outcome == nil {
		return domain.Lesson{}, fmt.Errorf("analyzer: setup %s is %s: %w", s.ID, s.Status, domain.ErrInvalidTransition)
	}

	m := ComputeMetrics(s, path)
	cause := Classify(s, m)
	summary, err := a.summarizer.Summarize(ctx, Input{Setup: s, Metrics: m, RootCause: cause})
	if err != nil {
		return domain.Lesson{}, fmt.Errorf("analyzer: summarize %s: %w", s.ID, err)
	}

	raw, err := json.Marshal(Analysis{
		Status:     s.Status,
		Outcome:    *s.Outcome,
		PnLPercent: s.PnLPercent,
		RootCause:  cause,
		Metrics:    m,
	})
	if err != nil {
		return domain.Lesson{}, fmt.Errorf("analyzer: marshal analysis: %w", err)
	}

	return domain.Lesson{
		ID:               uuid.NewString(),
		SetupID:          s.ID,
		RootCause:        cause,
		Lesson:           summary.Lesson,
		ImprovedStrategy: summary.ImprovedStrategy,
		Analysis:         raw,
		Analyzer:         summary.By,
		CreatedAt:        a.now(),
	}, nil
}
