package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/service"
)

// ProposalService defines what the proposal handler needs from the service
// layer.
type ProposalService interface {
	Submit(ctx context.Context, p domain.TradeProposal) (domain.Decision, error)
	Get(ctx context.Context, id string) (service.DecisionView, error)
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Decision, error)
}

// ProposalHandler serves proposal and decision endpoints.
type ProposalHandler struct {
	proposals ProposalService
	logger    *slog.Logger
}

// NewProposalHandler creates a ProposalHandler.
func NewProposalHandler(proposals ProposalService, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{proposals: proposals, logger: logger}
}

// Propose evaluates a proposal. Every well-formed proposal yields 200 with
// its Decision, whatever the action.
// POST /api/proposals
func (h *ProposalHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var p domain.TradeProposal
	if err := decodeJSON(w, r, &p); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to submit proposal")
		return
	}
	d, err := h.proposals.Submit(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to submit proposal")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type listDecisionsResponse struct {
	Decisions []domain.Decision `json:"decisions"`
}

// ListDecisions returns recent decisions, newest first.
// GET /api/decisions?limit=50&offset=0&since=&until=
func (h *ProposalHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	ds, err := h.proposals.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list decisions")
		return
	}
	if ds == nil {
		ds = []domain.Decision{}
	}
	writeJSON(w, http.StatusOK, listDecisionsResponse{Decisions: ds})
}

// GetDecision returns one decision with its chart attachments.
// GET /api/decisions/{id}
func (h *ProposalHandler) GetDecision(w http.ResponseWriter, r *http.Request) {
	view, err := h.proposals.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get decision")
		return
	}
	writeJSON(w, http.StatusOK, view)
}
