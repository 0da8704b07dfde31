package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// CalendarService defines what the calendar handler needs.
type CalendarService interface {
	Upsert(ctx context.Context, ev domain.CalendarEvent) (domain.CalendarEvent, error)
	List(ctx context.Context, from, to time.Time) ([]domain.CalendarEvent, error)
}

// CalendarHandler serves the economic calendar.
type CalendarHandler struct {
	calendar CalendarService
	logger   *slog.Logger
	now      func() time.Time
}

// NewCalendarHandler creates a CalendarHandler.
func NewCalendarHandler(calendar CalendarService, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{calendar: calendar, logger: logger, now: time.Now}
}

type listEventsResponse struct {
	Events []domain.CalendarEvent `json:"events"`
}

// ListEvents returns events in [from, to]. The default range is the next
// seven days.
// GET /api/calendar?from=&to=
func (h *CalendarHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := h.now().UTC()
	if t, ok := parseTimeParam(q.Get("from")); ok {
		from = t
	}
	to := from.Add(7 * 24 * time.Hour)
	if t, ok := parseTimeParam(q.Get("to")); ok {
		to = t
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	evs, err := h.calendar.List(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list calendar")
		return
	}
	if evs == nil {
		evs = []domain.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: evs})
}

// UpsertEvent creates or replaces an event.
// POST /api/calendar
func (h *CalendarHandler) UpsertEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.CalendarEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to save event")
		return
	}
	saved, err := h.calendar.Upsert(r.Context(), ev)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to save event")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}
