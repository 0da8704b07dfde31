package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// LessonStore implements domain.LessonStore using PostgreSQL. The unique
// constraint on setup_id enforces one lesson per setup.
type LessonStore struct {
	pool *pgxpool.Pool
}

// NewLessonStore creates a new LessonStore backed by the given connection pool.
func NewLessonStore(pool *pgxpool.Pool) *LessonStore {
	return &LessonStore{pool: pool}
}

const lessonSelectCols = `id, setup_id, root_cause, lesson, improved_strategy, analysis, analyzer, created_at`

func scanLesson(row pgx.Row) (domain.Lesson, error) {
	var (
		l        domain.Lesson
		analysis []byte
	)
	if err := row.Scan(&l.ID, &l.SetupID, &l.RootCause, &l.Lesson,
		&l.ImprovedStrategy, &analysis, &l.Analyzer, &l.CreatedAt); err != nil {
		return domain.Lesson{}, err
	}
	l.Analysis = analysis
	return l, nil
}

// Create inserts a lesson. A second lesson for the same setup returns
// domain.ErrAlreadyExists.
func (s *LessonStore) Create(ctx context.Context, l domain.Lesson) error {
	var analysis []byte
	if len(l.Analysis) > 0 {
		analysis = l.Analysis
	}
	const query = `
		INSERT INTO lessons (id, setup_id, root_cause, lesson, improved_strategy, analysis, analyzer, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		l.ID, l.SetupID, l.RootCause, l.Lesson, l.ImprovedStrategy, analysis, l.Analyzer, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create lesson for setup %s: %w", l.SetupID, mapErr(err))
	}
	return nil
}

// GetBySetup returns the lesson for a setup.
func (s *LessonStore) GetBySetup(ctx context.Context, setupID string) (domain.Lesson, error) {
	query := `SELECT ` + lessonSelectCols + ` FROM lessons WHERE setup_id = $1`
	l, err := scanLesson(s.pool.QueryRow(ctx, query, setupID))
	if err != nil {
		return domain.Lesson{}, fmt.Errorf("postgres: get lesson for setup %s: %w", setupID, mapErr(err))
	}
	return l, nil
}

// List returns lessons newest first.
func (s *LessonStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Lesson, error) {
	query := `SELECT ` + lessonSelectCols + ` FROM lessons WHERE 1=1`
	var args []any
	query, args = appendTimeRange(query, args, "created_at", opts)
	query += " ORDER BY created_at DESC"
	query, args = appendPaging(query, args, opts)
	return s.query(ctx, "list lessons", query, args...)
}

// ListBefore returns lessons created strictly before the cutoff.
func (s *LessonStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Lesson, error) {
	query := `SELECT ` + lessonSelectCols + ` FROM lessons WHERE created_at < $1 ORDER BY created_at`
	return s.query(ctx, "list lessons before", query, before)
}

func (s *LessonStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Lesson, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: rows: %w", op, err)
	}
	return out, nil
}

var _ domain.LessonStore = (*LessonStore)(nil)
