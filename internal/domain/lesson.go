package domain

import (
	"encoding/json"
	"time"
)

// Lesson is the post-mortem for a terminal setup. There is at most one per
// setup and it is never updated.
type Lesson struct {
	ID               string          `json:"id"`
	SetupID          string          `json:"setup_id"`
	RootCause        string          `json:"root_cause"`
	Lesson           string          `json:"lesson"`
	ImprovedStrategy string          `json:"improved_strategy,omitempty"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	Analyzer         string          `json:"analyzer"`
	CreatedAt        time.Time       `json:"created_at"`
}

// EventImpact grades a scheduled calendar event.
type EventImpact string

const (
	ImpactHigh   EventImpact = "high"
	ImpactMedium EventImpact = "medium"
	ImpactLow    EventImpact = "low"
)

// CalendarEvent is a scheduled occurrence such as a rate decision or a data
// release. An empty Symbols list, or one containing "*", applies to every
// symbol.
type CalendarEvent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Symbols     []string    `json:"symbols"`
	Impact      EventImpact `json:"impact"`
	ScheduledAt time.Time   `json:"scheduled_at"`
}

// AppliesTo reports whether the event concerns the given symbol.
func (e CalendarEvent) AppliesTo(symbol string) bool {
	if len(e.Symbols) == 0 {
		return true
	}
	for _, s := range e.Symbols {
		if s == "*" || s == symbol {
			return true
		}
	}
	return false
}

// AttachmentStatus records what happened to a chart request.
type AttachmentStatus string

const (
	AttachmentAttached AttachmentStatus = "attached"
	AttachmentCached   AttachmentStatus = "cached"
	AttachmentMissing  AttachmentStatus = "missing"
)

// ChartAttachment links a chart snapshot to a decision or a setup.
type ChartAttachment struct {
	ID        string           `json:"id"`
	RefKind   string           `json:"ref_kind"`
	RefID     string           `json:"ref_id"`
	Status    AttachmentStatus `json:"status"`
	URL       string           `json:"url,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
