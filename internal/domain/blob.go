package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader looks up stored objects and their public links.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
	URL(path string) string
}

// Archiver moves closed records to cold storage.
type Archiver interface {
	ArchiveSetups(ctx context.Context, before time.Time) (int64, error)
	ArchiveDecisions(ctx context.Context, before time.Time) (int64, error)
	ArchiveLessons(ctx context.Context, before time.Time) (int64, error)
}
