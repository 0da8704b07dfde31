package journal

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const drainTimeout = 5 * time.Second

// Bridge queues records and writes them to every sink from one goroutine.
// Emit never blocks: a full queue drops the record and counts it.
type Bridge struct {
	sinks   []Sink
	queue   chan Record
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewBridge creates a Bridge with a queue of bufSize records.
func NewBridge(sinks []Sink, bufSize int, logger *slog.Logger) *Bridge {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &Bridge{
		sinks:  sinks,
		queue:  make(chan Record, bufSize),
		logger: logger.With(slog.String("component", "journal")),
	}
}

// Emit enqueues rec.
func (b *Bridge) Emit(rec Record) {
	select {
	case b.queue <- rec:
	default:
		b.dropped.Add(1)
		b.logger.Warn("journal queue full, record dropped",
			slog.String("kind", string(rec.Kind)),
			slog.String("ref_id", rec.RefID),
		)
	}
}

// Dropped returns how many records Emit discarded.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Run writes queued records until ctx ends, then flushes what is already
// queued with a short deadline.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-b.queue:
			b.write(ctx, rec)
		case <-ctx.Done():
			b.drain()
			return nil
		}
	}
}

func (b *Bridge) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case rec := <-b.queue:
			b.write(ctx, rec)
		default:
			return
		}
	}
}

// write hands rec to every sink. Sink failures are logged and never retried.
func (b *Bridge) write(ctx context.Context, rec Record) {
	for _, s := range b.sinks {
		if err := s.Write(ctx, rec); err != nil {
			b.logger.WarnContext(ctx, "journal sink failed",
				slog.String("sink", s.Name()),
				slog.String("kind", string(rec.Kind)),
				slog.String("ref_id", rec.RefID),
				slog.String("error", err.Error()),
			)
		}
	}
}
