package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/notify"
)

// Sink persists or forwards records. Sinks are called from the bridge's
// single writer goroutine.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

// StreamSink appends records to a SignalBus stream.
type StreamSink struct {
	bus    domain.SignalBus
	stream string
}

// NewStreamSink writes to stream on bus.
func NewStreamSink(bus domain.SignalBus, stream string) *StreamSink {
	if stream == "" {
		stream = domain.StreamJournal
	}
	return &StreamSink{bus: bus, stream: stream}
}

func (s *StreamSink) Name() string { return "stream" }

func (s *StreamSink) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: marshal record: %w", err)
	}
	return s.bus.StreamAppend(ctx, s.stream, data)
}

// AuditSink mirrors records into the audit log as "journal.<kind>" events.
type AuditSink struct {
	store domain.AuditStore
}

func NewAuditSink(store domain.AuditStore) *AuditSink {
	return &AuditSink{store: store}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Write(ctx context.Context, rec Record) error {
	return s.store.Log(ctx, "journal."+string(rec.Kind), map[string]any{
		"journal_id": rec.ID,
		"symbol":     rec.Symbol,
		"ref_id":     rec.RefID,
		"at":         rec.At,
	})
}

// NotifySink turns selected records into chat notifications.
type NotifySink struct {
	n *notify.Notifier
}

func NewNotifySink(n *notify.Notifier) *NotifySink {
	return &NotifySink{n: n}
}

func (s *NotifySink) Name() string { return "notify" }

func (s *NotifySink) Write(ctx context.Context, rec Record) error {
	event, title, msg, ok, err := describe(rec)
	if err != nil || !ok {
		return err
	}
	return s.n.Notify(ctx, event, title, msg)
}

// describe renders rec as a notification. ok is false for records that never
// notify, such as non-HALT decisions.
func describe(rec Record) (event, title, msg string, ok bool, err error) {
	switch rec.Kind {
	case KindDecision:
		var d domain.Decision
		if err := json.Unmarshal(rec.Payload, &d); err != nil {
			return "", "", "", false, fmt.Errorf("journal: decode decision: %w", err)
		}
		if d.Action != domain.ActionHalt {
			return "", "", "", false, nil
		}
		return notify.EventDecisionHalt,
			fmt.Sprintf("HALT %s %s", d.Proposal.Side, d.Proposal.Symbol),
			fmt.Sprintf("%s (%s)", d.Reason, d.Risk.EventName), true, nil

	case KindSetupClosed:
		var s domain.Setup
		if err := json.Unmarshal(rec.Payload, &s); err != nil {
			return "", "", "", false, fmt.Errorf("journal: decode setup: %w", err)
		}
		msg := fmt.Sprintf("%s %s entry %g stop %g target %g", s.Side, s.Symbol, s.Entry, s.Stop, s.Target)
		if s.Outcome != nil {
			msg += fmt.Sprintf("\noutcome %s", *s.Outcome)
		}
		if s.PnLPercent != nil {
			msg += fmt.Sprintf(", pnl %.4f%%", *s.PnLPercent)
		}
		return notify.EventSetupClosed, fmt.Sprintf("Setup %s %s", s.Symbol, s.Status), msg, true, nil

	case KindLesson:
		var l domain.Lesson
		if err := json.Unmarshal(rec.Payload, &l); err != nil {
			return "", "", "", false, fmt.Errorf("journal: decode lesson: %w", err)
		}
		return notify.EventLessonCreated,
			fmt.Sprintf("Lesson %s: %s", rec.Symbol, l.RootCause), l.Lesson, true, nil
	}
	return "", "", "", false, nil
}
