package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// AttachmentStore implements domain.AttachmentStore using PostgreSQL.
type AttachmentStore struct {
	pool *pgxpool.Pool
}

// NewAttachmentStore creates a new AttachmentStore backed by the given connection pool.
func NewAttachmentStore(pool *pgxpool.Pool) *AttachmentStore {
	return &AttachmentStore{pool: pool}
}

// Create records an attachment.
func (s *AttachmentStore) Create(ctx context.Context, a domain.ChartAttachment) error {
	const query = `
		INSERT INTO chart_attachments (id, ref_kind, ref_id, status, url, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query, a.ID, a.RefKind, a.RefID, string(a.Status), a.URL, a.Error, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create attachment for %s %s: %w", a.RefKind, a.RefID, mapErr(err))
	}
	return nil
}

// ListByRef returns attachments for a decision or setup, oldest first.
func (s *AttachmentStore) ListByRef(ctx context.Context, refKind, refID string) ([]domain.ChartAttachment, error) {
	const query = `
		SELECT id, ref_kind, ref_id, status, url, error, created_at FROM chart_attachments
		WHERE ref_kind = $1 AND ref_id = $2
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, refKind, refID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attachments: %w", err)
	}
	defer rows.Close()

	var out []domain.ChartAttachment
	for rows.Next() {
		var (
			a      domain.ChartAttachment
			status string
		)
		if err := rows.Scan(&a.ID, &a.RefKind, &a.RefID, &status, &a.URL, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan attachment: %w", err)
		}
		a.Status = domain.AttachmentStatus(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attachments rows: %w", err)
	}
	return out, nil
}

var _ domain.AttachmentStore = (*AttachmentStore)(nil)
