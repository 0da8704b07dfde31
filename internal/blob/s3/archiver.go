package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold routes larger monthly files through the upload
	// manager.
	multipartThreshold = 8 * 1024 * 1024
)

// DecisionArchiveStore lists decisions for archival.
type DecisionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Decision, error)
}

// SetupArchiveStore lists closed setups for archival.
type SetupArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Setup, error)
}

// LessonArchiveStore lists lessons for archival.
type LessonArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Lesson, error)
}

// ArchiveImpl implements domain.Archiver. Records older than the cutoff are
// grouped by calendar month and written as archive/<kind>/YYYY-MM.jsonl, so
// a rerun rewrites the same objects. Rows are never deleted from the primary
// store here.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	decisions DecisionArchiveStore
	setups    SetupArchiveStore
	lessons   LessonArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates an ArchiveImpl. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	decisions DecisionArchiveStore,
	setups SetupArchiveStore,
	lessons LessonArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		decisions: decisions,
		setups:    setups,
		lessons:   lessons,
		audit:     audit,
	}
}

// ArchiveSetups archives setups closed before the cutoff.
func (a *ArchiveImpl) ArchiveSetups(ctx context.Context, before time.Time) (int64, error) {
	setups, err := a.setups.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive setups query: %w", err)
	}
	return archive(ctx, a, "setups", before, setups, func(s domain.Setup) time.Time {
		if s.ClosedAt != nil {
			return *s.ClosedAt
		}
		return s.CreatedAt
	})
}

// ArchiveDecisions archives decisions made before the cutoff.
func (a *ArchiveImpl) ArchiveDecisions(ctx context.Context, before time.Time) (int64, error) {
	decisions, err := a.decisions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions query: %w", err)
	}
	return archive(ctx, a, "decisions", before, decisions, func(d domain.Decision) time.Time {
		return d.DecidedAt
	})
}

// ArchiveLessons archives lessons written before the cutoff.
func (a *ArchiveImpl) ArchiveLessons(ctx context.Context, before time.Time) (int64, error) {
	lessons, err := a.lessons.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive lessons query: %w", err)
	}
	return archive(ctx, a, "lessons", before, lessons, func(l domain.Lesson) time.Time {
		return l.CreatedAt
	})
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T, at func(T) time.Time) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	months := make(map[string][]T)
	for _, rec := range records {
		m := at(rec).UTC().Format("2006-01")
		months[m] = append(months[m], rec)
	}
	keys := make([]string, 0, len(months))
	for m := range months {
		keys = append(keys, m)
	}
	sort.Strings(keys)

	paths := make([]string, 0, len(keys))
	for _, m := range keys {
		buf, err := marshalJSONL(months[m])
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		path := archivePath(kind, m)
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		paths = append(paths, path)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"paths":  paths,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// archivePath builds the object key for one month of a kind.
//
//	archive/setups/2026-01.jsonl
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
