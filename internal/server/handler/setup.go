package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/feed"
	"github.com/alanyoungcy/setupwatch/internal/service"
)

// SetupService defines what the setup handler needs from the tracker.
type SetupService interface {
	Apply(ctx context.Context, obs domain.PriceObservation) ([]service.Transition, error)
	Get(ctx context.Context, id string) (service.SetupView, error)
	List(ctx context.Context, f domain.SetupFilter) ([]domain.Setup, error)
	Invalidate(ctx context.Context, setupID, reason string) (service.Transition, error)
}

// LessonService defines what the setup handler needs from the analyzer.
type LessonService interface {
	Lesson(ctx context.Context, setupID string) (domain.Lesson, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Lesson, error)
}

// SetupHandler serves price, setup and lesson endpoints.
type SetupHandler struct {
	setups  SetupService
	lessons LessonService
	logger  *slog.Logger
	now     func() time.Time
}

// NewSetupHandler creates a SetupHandler.
func NewSetupHandler(setups SetupService, lessons LessonService, logger *slog.Logger) *SetupHandler {
	return &SetupHandler{setups: setups, lessons: lessons, logger: logger, now: time.Now}
}

type pricesResponse struct {
	Accepted    int                  `json:"accepted"`
	Transitions []service.Transition `json:"transitions"`
}

// SubmitPrices applies one observation or a batch synchronously and returns
// the transitions they caused.
// POST /api/prices
func (h *SetupHandler) SubmitPrices(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read prices")
		return
	}
	obs, err := feed.Decode(body, h.now())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to decode prices")
		return
	}
	for _, o := range obs {
		if err := service.ValidateObservation(o); err != nil {
			writeServiceError(w, r, h.logger, err, "invalid observation")
			return
		}
	}

	resp := pricesResponse{Transitions: []service.Transition{}}
	for _, o := range obs {
		trs, err := h.setups.Apply(r.Context(), o)
		if err != nil {
			writeServiceError(w, r, h.logger, err, "failed to apply prices")
			return
		}
		resp.Accepted++
		resp.Transitions = append(resp.Transitions, trs...)
	}
	writeJSON(w, http.StatusOK, resp)
}

type listSetupsResponse struct {
	Setups []domain.Setup `json:"setups"`
}

// ListSetups returns setups filtered by status and symbol.
// GET /api/setups?status=&symbol=&limit=&offset=
func (h *SetupHandler) ListSetups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.SetupFilter{
		Status:   domain.SetupStatus(strings.TrimSpace(q.Get("status"))),
		Symbol:   strings.TrimSpace(q.Get("symbol")),
		ListOpts: parseListOpts(r),
	}
	switch f.Status {
	case "", domain.SetupPending, domain.SetupEntryHit, domain.SetupStopHit, domain.SetupTPHit, domain.SetupExpired:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(f.Status))
		return
	}

	ss, err := h.setups.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list setups")
		return
	}
	if ss == nil {
		ss = []domain.Setup{}
	}
	writeJSON(w, http.StatusOK, listSetupsResponse{Setups: ss})
}

// GetSetup returns one setup with its chart attachments.
// GET /api/setups/{id}
func (h *SetupHandler) GetSetup(w http.ResponseWriter, r *http.Request) {
	view, err := h.setups.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get setup")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type invalidateRequest struct {
	Reason string `json:"reason"`
}

// Invalidate cancels a pending setup. A setup that already entered or closed
// yields 409.
// POST /api/setups/{id}/invalidate
func (h *SetupHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, r, h.logger, err, "failed to invalidate setup")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	tr, err := h.setups.Invalidate(r.Context(), pathParam(r, "id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to invalidate setup")
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// GetLesson returns the lesson for a setup.
// GET /api/setups/{id}/lesson
func (h *SetupHandler) GetLesson(w http.ResponseWriter, r *http.Request) {
	l, err := h.lessons.Lesson(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get lesson")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type listLessonsResponse struct {
	Lessons []domain.Lesson `json:"lessons"`
}

// ListLessons returns lessons, newest first.
// GET /api/lessons?limit=&offset=&since=&until=
func (h *SetupHandler) ListLessons(w http.ResponseWriter, r *http.Request) {
	ls, err := h.lessons.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list lessons")
		return
	}
	if ls == nil {
		ls = []domain.Lesson{}
	}
	writeJSON(w, http.StatusOK, listLessonsResponse{Lessons: ls})
}
