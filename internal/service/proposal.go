package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/setupwatch/internal/decision"
	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/journal"
	"github.com/alanyoungcy/setupwatch/internal/lifecycle"
	"github.com/alanyoungcy/setupwatch/internal/risk"
)

// ProposalDeps groups the collaborators of a ProposalService. Bus, Journal
// and Charts are optional.
type ProposalDeps struct {
	Evaluator   *risk.Evaluator
	Engine      *decision.Engine
	Windows     lifecycle.Windows
	Decisions   domain.DecisionStore
	Attachments domain.AttachmentStore
	Audit       domain.AuditStore
	Calendar    domain.CalendarStore
	Exposure    *ExposureProvider
	Signals     *MarketSignalProvider
	Bus         domain.SignalBus
	Journal     Journal
	Charts      ChartRequester
	Logger      *slog.Logger
}

// DecisionView is a decision with its chart attachments.
type DecisionView struct {
	domain.Decision
	Attachments []domain.ChartAttachment `json:"attachments"`
}

// ProposalService turns proposals into decisions and, on EXECUTE, setups.
type ProposalService struct {
	d      ProposalDeps
	out    fanout
	logger *slog.Logger
	now    func() time.Time
}

// NewProposalService creates a ProposalService.
func NewProposalService(d ProposalDeps) *ProposalService {
	logger := d.Logger.With(slog.String("component", "proposals"))
	return &ProposalService{
		d:      d,
		out:    fanout{bus: d.Bus, journal: d.Journal, charts: d.Charts, logger: logger},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit evaluates p and records the resulting decision. Only malformed
// proposals (domain.ErrInvalidProposal) and storage failures return an error;
// REJECT, WAIT, HALT and REDUCE are ordinary decisions.
func (s *ProposalService) Submit(ctx context.Context, p domain.TradeProposal) (domain.Decision, error) {
	now := s.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.SubmittedAt.IsZero() {
		p.SubmittedAt = now
	}
	if err := p.Validate(); err != nil {
		return domain.Decision{}, err
	}

	rc := s.d.Evaluator.Evaluate(s.gather(ctx, p, now))
	d, err := s.d.Engine.Decide(p, rc)
	if err != nil {
		return domain.Decision{}, err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	var setup domain.Setup
	if d.Action == domain.ActionExecute {
		setup = lifecycle.NewSetup(uuid.NewString(), d, d.DecidedAt, s.d.Windows)
		d.SetupID = setup.ID
	}

	if d.SetupID != "" {
		if err := s.d.Decisions.CreateWithSetup(ctx, d, setup); err != nil {
			return domain.Decision{}, fmt.Errorf("proposals: persist decision and setup: %w", err)
		}
	} else if err := s.d.Decisions.Create(ctx, d); err != nil {
		return domain.Decision{}, fmt.Errorf("proposals: persist decision: %w", err)
	}

	s.logger.InfoContext(ctx, "decision",
		slog.String("decision_id", d.ID),
		slog.String("symbol", p.Symbol),
		slog.String("action", string(d.Action)),
		slog.String("reason", d.Reason),
		slog.Float64("bias_score", d.BiasScore),
		slog.Float64("risk_reward", d.RiskReward),
	)
	s.audit(ctx, d)

	s.out.publish(ctx, domain.ChannelDecisions, MsgDecision, d)
	if d.SetupID != "" {
		s.out.publish(ctx, domain.ChannelSetups, MsgSetup, setup)
	}
	rec, recErr := journal.DecisionRecord(d)
	s.out.emit(ctx, rec, recErr)
	if d.Action == domain.ActionExecute {
		s.out.chart(decisionChart(d))
	}
	return d, nil
}

// gather collects evaluator inputs. Provider failures degrade to neutral
// inputs rather than failing the proposal.
func (s *ProposalService) gather(ctx context.Context, p domain.TradeProposal, now time.Time) risk.Inputs {
	in := risk.Inputs{Proposal: p, Now: now}

	if s.d.Exposure != nil {
		exp, err := s.d.Exposure.Exposure(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "exposure unavailable", slog.String("error", err.Error()))
		}
		in.Exposure = exp
	}

	if s.d.Calendar != nil {
		from, to := s.d.Evaluator.EventWindow(now)
		evs, err := s.d.Calendar.Between(ctx, from, to)
		if err != nil {
			s.logger.WarnContext(ctx, "calendar unavailable", slog.String("error", err.Error()))
		}
		in.Events = evs
	}

	if s.d.Signals != nil {
		sig := s.d.Signals.Signal(p.Symbol)
		in.Trend = sig.Trend
		in.RecentVolatility = sig.RecentVolatility
		in.HistoricalVolatility = sig.HistoricalVolatility
	}
	return in
}

func (s *ProposalService) audit(ctx context.Context, d domain.Decision) {
	if s.d.Audit == nil {
		return
	}
	err := s.d.Audit.Log(ctx, "decision", map[string]any{
		"decision_id": d.ID,
		"symbol":      d.Proposal.Symbol,
		"action":      string(d.Action),
		"reason":      d.Reason,
		"setup_id":    d.SetupID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

// Get returns a decision with its attachments.
func (s *ProposalService) Get(ctx context.Context, id string) (DecisionView, error) {
	d, err := s.d.Decisions.GetByID(ctx, id)
	if err != nil {
		return DecisionView{}, fmt.Errorf("proposals: get %s: %w", id, err)
	}
	view := DecisionView{Decision: d, Attachments: []domain.ChartAttachment{}}
	if s.d.Attachments != nil {
		atts, err := s.d.Attachments.ListByRef(ctx, "decision", id)
		if err != nil {
			return DecisionView{}, fmt.Errorf("proposals: attachments %s: %w", id, err)
		}
		if atts != nil {
			view.Attachments = atts
		}
	}
	return view, nil
}

// ListRecent returns decisions newest first.
func (s *ProposalService) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Decision, error) {
	ds, err := s.d.Decisions.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("proposals: list: %w", err)
	}
	return ds, nil
}
