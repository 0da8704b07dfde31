package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore backed by the given connection pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

const decisionSelectCols = `id, proposal, action, reason, bias_score, risk_reward,
	risk_context, size_reduction, COALESCE(setup_id, ''), decided_at`

func scanDecision(row pgx.Row) (domain.Decision, error) {
	var (
		d                  domain.Decision
		action             string
		proposalJSON, rcJS []byte
	)
	if err := row.Scan(
		&d.ID, &proposalJSON, &action, &d.Reason, &d.BiasScore, &d.RiskReward,
		&rcJS, &d.SizeReduction, &d.SetupID, &d.DecidedAt,
	); err != nil {
		return domain.Decision{}, err
	}
	d.Action = domain.Action(action)
	if err := json.Unmarshal(proposalJSON, &d.Proposal); err != nil {
		return domain.Decision{}, fmt.Errorf("unmarshal proposal: %w", err)
	}
	if err := json.Unmarshal(rcJS, &d.Risk); err != nil {
		return domain.Decision{}, fmt.Errorf("unmarshal risk context: %w", err)
	}
	return d, nil
}

func scanDecisions(rows pgx.Rows) ([]domain.Decision, error) {
	defer rows.Close()
	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Create inserts a decision. Decisions are never updated.
func (s *DecisionStore) Create(ctx context.Context, d domain.Decision) error {
	return insertDecision(ctx, s.pool, d)
}

// CreateWithSetup inserts d and st in one transaction.
func (s *DecisionStore) CreateWithSetup(ctx context.Context, d domain.Decision, st domain.Setup) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertDecision(ctx, tx, d); err != nil {
		return err
	}
	if err := insertSetup(ctx, tx, st); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit decision %s: %w", d.ID, err)
	}
	return nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertDecision(ctx context.Context, db execer, d domain.Decision) error {
	proposalJSON, err := json.Marshal(d.Proposal)
	if err != nil {
		return fmt.Errorf("postgres: marshal proposal: %w", err)
	}
	rcJSON, err := json.Marshal(d.Risk)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk context: %w", err)
	}

	var setupID *string
	if d.SetupID != "" {
		setupID = &d.SetupID
	}

	const query = `
		INSERT INTO decisions (
			id, proposal_id, symbol, side, proposal, action, reason,
			bias_score, risk_reward, risk_context, size_reduction, setup_id, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = db.Exec(ctx, query,
		d.ID, d.Proposal.ID, d.Proposal.Symbol, string(d.Proposal.Side), proposalJSON,
		string(d.Action), d.Reason, d.BiasScore, d.RiskReward, rcJSON,
		d.SizeReduction, setupID, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create decision %s: %w", d.ID, mapErr(err))
	}
	return nil
}

// GetByID returns the decision with the given id.
func (s *DecisionStore) GetByID(ctx context.Context, id string) (domain.Decision, error) {
	query := `SELECT ` + decisionSelectCols + ` FROM decisions WHERE id = $1`
	d, err := scanDecision(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Decision{}, fmt.Errorf("postgres: get decision %s: %w", id, mapErr(err))
	}
	return d, nil
}

// ListRecent returns decisions newest first.
func (s *DecisionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Decision, error) {
	query := `SELECT ` + decisionSelectCols + ` FROM decisions WHERE 1=1`
	var args []any
	query, args = appendTimeRange(query, args, "decided_at", opts)
	query += " ORDER BY decided_at DESC"
	query, args = appendPaging(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	out, err := scanDecisions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return out, nil
}

// ListBefore returns decisions made strictly before the cutoff, oldest first.
func (s *DecisionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Decision, error) {
	query := `SELECT ` + decisionSelectCols + ` FROM decisions WHERE decided_at < $1 ORDER BY decided_at`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions before: %w", err)
	}
	out, err := scanDecisions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return out, nil
}

// appendTimeRange adds Since/Until filters on col.
func appendTimeRange(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", col, len(args))
	}
	return query, args
}

// appendPaging adds LIMIT/OFFSET.
func appendPaging(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

var _ domain.DecisionStore = (*DecisionStore)(nil)
