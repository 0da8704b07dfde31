package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// CalendarStore implements domain.CalendarStore using PostgreSQL.
type CalendarStore struct {
	pool *pgxpool.Pool
}

// NewCalendarStore creates a new CalendarStore backed by the given connection pool.
func NewCalendarStore(pool *pgxpool.Pool) *CalendarStore {
	return &CalendarStore{pool: pool}
}

// Upsert inserts or replaces an event by id.
func (s *CalendarStore) Upsert(ctx context.Context, ev domain.CalendarEvent) error {
	const query = `
		INSERT INTO calendar_events (id, name, symbols, impact, scheduled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			symbols = EXCLUDED.symbols,
			impact = EXCLUDED.impact,
			scheduled_at = EXCLUDED.scheduled_at`
	symbols := ev.Symbols
	if symbols == nil {
		symbols = []string{}
	}
	if _, err := s.pool.Exec(ctx, query, ev.ID, ev.Name, symbols, string(ev.Impact), ev.ScheduledAt); err != nil {
		return fmt.Errorf("postgres: upsert calendar event %s: %w", ev.ID, err)
	}
	return nil
}

// Between returns events scheduled in [from, to].
func (s *CalendarStore) Between(ctx context.Context, from, to time.Time) ([]domain.CalendarEvent, error) {
	const query = `
		SELECT id, name, symbols, impact, scheduled_at FROM calendar_events
		WHERE scheduled_at >= $1 AND scheduled_at <= $2
		ORDER BY scheduled_at, id`
	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list calendar events: %w", err)
	}
	defer rows.Close()

	var out []domain.CalendarEvent
	for rows.Next() {
		var (
			ev     domain.CalendarEvent
			impact string
		)
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Symbols, &impact, &ev.ScheduledAt); err != nil {
			return nil, fmt.Errorf("postgres: scan calendar event: %w", err)
		}
		ev.Impact = domain.EventImpact(impact)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list calendar events rows: %w", err)
	}
	return out, nil
}

var _ domain.CalendarStore = (*CalendarStore)(nil)
