package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SetupFilter narrows setup listings. Zero fields match everything.
type SetupFilter struct {
	Status SetupStatus
	Symbol string
	ListOpts
}

// DecisionStore persists decisions. Decisions are insert-only.
type DecisionStore interface {
	Create(ctx context.Context, d Decision) error
	// CreateWithSetup inserts an EXECUTE decision and its setup as one unit.
	// Either both are stored or neither is.
	CreateWithSetup(ctx context.Context, d Decision, s Setup) error
	GetByID(ctx context.Context, id string) (Decision, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Decision, error)
	ListBefore(ctx context.Context, before time.Time) ([]Decision, error)
}

// SetupStore persists setups.
type SetupStore interface {
	Create(ctx context.Context, s Setup) error
	GetByID(ctx context.Context, id string) (Setup, error)
	// Update writes s only if the stored version equals s.Version and returns
	// the stored copy with its version incremented. A mismatch returns
	// ErrVersionConflict.
	Update(ctx context.Context, s Setup) (Setup, error)
	// ListOpen returns pending and entry_hit setups for a symbol, oldest first.
	ListOpen(ctx context.Context, symbol string) ([]Setup, error)
	// ListDue returns pending setups whose valid_until is at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Setup, error)
	List(ctx context.Context, f SetupFilter) ([]Setup, error)
	CountOpen(ctx context.Context) (int, error)
	// ListUnanalyzed returns terminal setups that have no lesson yet.
	ListUnanalyzed(ctx context.Context, limit int) ([]Setup, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Setup, error)
}

// LessonStore persists lessons. Create returns ErrAlreadyExists when the setup
// already has one.
type LessonStore interface {
	Create(ctx context.Context, l Lesson) error
	GetBySetup(ctx context.Context, setupID string) (Lesson, error)
	List(ctx context.Context, opts ListOpts) ([]Lesson, error)
	ListBefore(ctx context.Context, before time.Time) ([]Lesson, error)
}

// PriceStore keeps the observed price path per symbol.
type PriceStore interface {
	Append(ctx context.Context, obs PriceObservation) error
	Path(ctx context.Context, symbol string, from, to time.Time) ([]PricePoint, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// CalendarStore persists scheduled events.
type CalendarStore interface {
	Upsert(ctx context.Context, ev CalendarEvent) error
	Between(ctx context.Context, from, to time.Time) ([]CalendarEvent, error)
}

// AttachmentStore persists chart attachments.
type AttachmentStore interface {
	Create(ctx context.Context, a ChartAttachment) error
	ListByRef(ctx context.Context, refKind, refID string) ([]ChartAttachment, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
