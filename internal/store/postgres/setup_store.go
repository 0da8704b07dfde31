package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// SetupStore implements domain.SetupStore using PostgreSQL. Updates are
// guarded by the version column.
type SetupStore struct {
	pool *pgxpool.Pool
}

// NewSetupStore creates a new SetupStore backed by the given connection pool.
func NewSetupStore(pool *pgxpool.Pool) *SetupStore {
	return &SetupStore{pool: pool}
}

const setupSelectCols = `id, decision_id, symbol, side, entry, stop, target, confidence,
	timeframe, entry_trigger, status, entry_hit_at, stop_hit_at, target_hit_at,
	outcome, exit_price, pnl_percent, last_price, last_checked_at,
	valid_until, created_at, closed_at, version`

func scanSetup(row pgx.Row) (domain.Setup, error) {
	var (
		st                    domain.Setup
		side, trigger, status string
		outcome               *string
	)
	err := row.Scan(
		&st.ID, &st.DecisionID, &st.Symbol, &side,
		&st.Entry, &st.Stop, &st.Target, &st.Confidence,
		&st.Timeframe, &trigger, &status,
		&st.EntryHitAt, &st.StopHitAt, &st.TargetHitAt,
		&outcome, &st.ExitPrice, &st.PnLPercent, &st.LastPrice, &st.LastCheckedAt,
		&st.ValidUntil, &st.CreatedAt, &st.ClosedAt, &st.Version,
	)
	if err != nil {
		return domain.Setup{}, err
	}
	st.Side = domain.Side(side)
	st.EntryTrigger = domain.EntryTrigger(trigger)
	st.Status = domain.SetupStatus(status)
	if outcome != nil {
		o := domain.Outcome(*outcome)
		st.Outcome = &o
	}
	return st, nil
}

func scanSetups(rows pgx.Rows) ([]domain.Setup, error) {
	defer rows.Close()
	var out []domain.Setup
	for rows.Next() {
		st, err := scanSetup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func outcomeArg(o *domain.Outcome) *string {
	if o == nil {
		return nil
	}
	v := string(*o)
	return &v
}

// Create inserts a new setup.
func (s *SetupStore) Create(ctx context.Context, st domain.Setup) error {
	return insertSetup(ctx, s.pool, st)
}

func insertSetup(ctx context.Context, db execer, st domain.Setup) error {
	if st.Version == 0 {
		st.Version = 1
	}
	const query = `
		INSERT INTO setups (
			id, decision_id, symbol, side, entry, stop, target, confidence,
			timeframe, entry_trigger, status, valid_until, created_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := db.Exec(ctx, query,
		st.ID, st.DecisionID, st.Symbol, string(st.Side),
		st.Entry, st.Stop, st.Target, st.Confidence,
		st.Timeframe, string(st.EntryTrigger), string(st.Status),
		st.ValidUntil, st.CreatedAt, st.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: create setup %s: %w", st.ID, mapErr(err))
	}
	return nil
}

// GetByID returns the setup with the given id.
func (s *SetupStore) GetByID(ctx context.Context, id string) (domain.Setup, error) {
	query := `SELECT ` + setupSelectCols + ` FROM setups WHERE id = $1`
	st, err := scanSetup(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Setup{}, fmt.Errorf("postgres: get setup %s: %w", id, mapErr(err))
	}
	return st, nil
}

// Update writes the mutable lifecycle columns when the stored version equals
// st.Version and returns the row with its new version.
func (s *SetupStore) Update(ctx context.Context, st domain.Setup) (domain.Setup, error) {
	query := `
		UPDATE setups SET
			status = $3,
			entry_hit_at = $4,
			stop_hit_at = $5,
			target_hit_at = $6,
			outcome = $7,
			exit_price = $8,
			pnl_percent = $9,
			last_price = $10,
			last_checked_at = $11,
			closed_at = $12,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + setupSelectCols

	updated, err := scanSetup(s.pool.QueryRow(ctx, query,
		st.ID, st.Version, string(st.Status),
		st.EntryHitAt, st.StopHitAt, st.TargetHitAt,
		outcomeArg(st.Outcome), st.ExitPrice, st.PnLPercent,
		st.LastPrice, st.LastCheckedAt, st.ClosedAt,
	))
	if err == nil {
		return updated, nil
	}
	if mapErr(err) != domain.ErrNotFound {
		return domain.Setup{}, fmt.Errorf("postgres: update setup %s: %w", st.ID, err)
	}

	// No row matched: either the setup is gone or its version moved on.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM setups WHERE id = $1)`, st.ID).Scan(&exists); err != nil {
		return domain.Setup{}, fmt.Errorf("postgres: update setup %s: check exists: %w", st.ID, err)
	}
	if !exists {
		return domain.Setup{}, fmt.Errorf("postgres: update setup %s: %w", st.ID, domain.ErrNotFound)
	}
	return domain.Setup{}, fmt.Errorf("postgres: update setup %s v%d: %w", st.ID, st.Version, domain.ErrVersionConflict)
}

// ListOpen returns the symbol's pending and entry_hit setups, oldest first.
// Served by idx_setups_status_symbol.
func (s *SetupStore) ListOpen(ctx context.Context, symbol string) ([]domain.Setup, error) {
	query := `SELECT ` + setupSelectCols + ` FROM setups
		WHERE status IN ('pending', 'entry_hit') AND symbol = $1
		ORDER BY created_at, id`
	return s.query(ctx, "list open setups", query, symbol)
}

// ListDue returns pending setups whose validity has elapsed, earliest first.
// Served by the partial idx_setups_pending_valid_until.
func (s *SetupStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Setup, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + setupSelectCols + ` FROM setups
		WHERE status = 'pending' AND valid_until <= $1
		ORDER BY valid_until
		LIMIT $2`
	return s.query(ctx, "list due setups", query, now, limit)
}

// List returns setups matching f, newest first.
func (s *SetupStore) List(ctx context.Context, f domain.SetupFilter) ([]domain.Setup, error) {
	query := `SELECT ` + setupSelectCols + ` FROM setups WHERE 1=1`
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	query, args = appendTimeRange(query, args, "created_at", f.ListOpts)
	query += " ORDER BY created_at DESC"
	query, args = appendPaging(query, args, f.ListOpts)
	return s.query(ctx, "list setups", query, args...)
}

// CountOpen counts pending and entry_hit setups.
func (s *SetupStore) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM setups WHERE status IN ('pending', 'entry_hit')`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open setups: %w", err)
	}
	return n, nil
}

// ListUnanalyzed returns terminal setups that have no lesson yet.
func (s *SetupStore) ListUnanalyzed(ctx context.Context, limit int) ([]domain.Setup, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + prefixed("s.", setupSelectCols) + ` FROM setups s
		LEFT JOIN lessons l ON l.setup_id = s.id
		WHERE s.status IN ('sl_hit', 'tp_hit', 'expired') AND l.id IS NULL
		ORDER BY s.closed_at
		LIMIT $1`
	return s.query(ctx, "list unanalyzed setups", query, limit)
}

// ListClosedBefore returns setups closed strictly before the cutoff.
func (s *SetupStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Setup, error) {
	query := `SELECT ` + setupSelectCols + ` FROM setups
		WHERE closed_at IS NOT NULL AND closed_at < $1
		ORDER BY closed_at`
	return s.query(ctx, "list closed setups", query, before)
}

func (s *SetupStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Setup, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	out, err := scanSetups(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
	}
	return out, nil
}

var _ domain.SetupStore = (*SetupStore)(nil)
