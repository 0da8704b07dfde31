package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// PriceStore implements domain.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *pgxpool.Pool
}

// NewPriceStore creates a new PriceStore backed by the given connection pool.
func NewPriceStore(pool *pgxpool.Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Append records one observation.
func (s *PriceStore) Append(ctx context.Context, obs domain.PriceObservation) error {
	const query = `INSERT INTO price_observations (symbol, price, high, low, observed_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, obs.Symbol, obs.Price, obs.High, obs.Low, obs.ObservedAt); err != nil {
		return fmt.Errorf("postgres: append price %s: %w", obs.Symbol, err)
	}
	return nil
}

// Path returns the symbol's observations in [from, to], oldest first.
func (s *PriceStore) Path(ctx context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error) {
	const query = `
		SELECT price, high, low, observed_at FROM price_observations
		WHERE symbol = $1 AND observed_at >= $2 AND observed_at <= $3
		ORDER BY observed_at, id`
	rows, err := s.pool.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: price path %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.Price, &p.High, &p.Low, &p.At); err != nil {
			return nil, fmt.Errorf("postgres: scan price point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: price path rows: %w", err)
	}
	return out, nil
}

// Prune deletes observations strictly before the cutoff.
func (s *PriceStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_observations WHERE observed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune prices: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.PriceStore = (*PriceStore)(nil)
