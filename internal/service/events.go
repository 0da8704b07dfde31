// Package service coordinates the decision engine, the lifecycle automaton
// and the analyzer with storage, caches and the journal.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/setupwatch/internal/chart"
	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/journal"
)

// Journal accepts fire-and-forget records.
type Journal interface {
	Emit(rec journal.Record)
}

// ChartRequester asks for a chart in the background.
type ChartRequester interface {
	Request(req chart.Request)
}

// Envelope is the bus message format; WebSocket clients receive it verbatim.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Bus message types.
const (
	MsgDecision   = "decision"
	MsgSetup      = "setup"
	MsgSetupClose = "setup_closed"
	MsgLesson     = "lesson"
)

// fanout publishes to the bus and the journal. Every method is best-effort:
// failures are logged, never returned.
type fanout struct {
	bus     domain.SignalBus
	journal Journal
	charts  ChartRequester
	logger  *slog.Logger
}

func (f fanout) publish(ctx context.Context, channel, msgType string, data any) {
	if f.bus == nil {
		return
	}
	payload, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		f.logger.WarnContext(ctx, "marshal bus message failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := f.bus.Publish(ctx, channel, payload); err != nil {
		f.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (f fanout) emit(ctx context.Context, rec journal.Record, err error) {
	if err != nil {
		f.logger.WarnContext(ctx, "build journal record failed", slog.String("error", err.Error()))
		return
	}
	if f.journal != nil {
		f.journal.Emit(rec)
	}
}

func (f fanout) chart(req chart.Request) {
	if f.charts != nil {
		f.charts.Request(req)
	}
}

func decisionChart(d domain.Decision) chart.Request {
	p := d.Proposal
	return chart.Request{
		RefKind:   "decision",
		RefID:     d.ID,
		Symbol:    p.Symbol,
		Timeframe: p.Timeframe,
		Side:      p.Side,
		Entry:     p.Entry,
		Stop:      p.Stop,
		Target:    p.Target,
		Status:    string(d.Action),
		To:        d.DecidedAt,
	}
}

func setupChart(s domain.Setup) chart.Request {
	req := chart.Request{
		RefKind:   "setup",
		RefID:     s.ID,
		Symbol:    s.Symbol,
		Timeframe: s.Timeframe,
		Side:      s.Side,
		Entry:     s.Entry,
		Stop:      s.Stop,
		Target:    s.Target,
		Status:    string(s.Status),
		From:      s.CreatedAt,
	}
	if s.ClosedAt != nil {
		req.To = *s.ClosedAt
	}
	marks := map[string]any{}
	if s.EntryHitAt != nil {
		marks["entry_hit_at"] = *s.EntryHitAt
	}
	if s.ExitPrice != nil {
		marks["exit_price"] = *s.ExitPrice
	}
	if len(marks) > 0 {
		req.Marks = marks
	}
	return req
}
