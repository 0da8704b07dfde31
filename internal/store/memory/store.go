// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" storage driver and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Store groups every in-memory store over one shared dataset.
type Store struct {
	mu sync.RWMutex

	decisions   map[string]domain.Decision
	setups      map[string]domain.Setup
	lessons     map[string]domain.Lesson // keyed by setup ID
	prices      map[string][]domain.PricePoint
	calendar    map[string]domain.CalendarEvent
	attachments []domain.ChartAttachment
	audit       []domain.AuditEntry

	Decisions   *DecisionStore
	Setups      *SetupStore
	Lessons     *LessonStore
	Prices      *PriceStore
	Calendar    *CalendarStore
	Attachments *AttachmentStore
	Audit       *AuditStore
}

// New creates an empty Store.
func New() *Store {
	s := &Store{
		decisions: make(map[string]domain.Decision),
		setups:    make(map[string]domain.Setup),
		lessons:   make(map[string]domain.Lesson),
		prices:    make(map[string][]domain.PricePoint),
		calendar:  make(map[string]domain.CalendarEvent),
	}
	s.Decisions = &DecisionStore{s}
	s.Setups = &SetupStore{s}
	s.Lessons = &LessonStore{s}
	s.Prices = &PriceStore{s}
	s.Calendar = &CalendarStore{s}
	s.Attachments = &AttachmentStore{s}
	s.Audit = &AuditStore{s}
	return s
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

// DecisionStore implements domain.DecisionStore.
type DecisionStore struct{ s *Store }

// Create inserts d.
func (ds *DecisionStore) Create(_ context.Context, d domain.Decision) error {
	ds.s.mu.Lock()
	defer ds.s.mu.Unlock()
	if _, ok := ds.s.decisions[d.ID]; ok {
		return fmt.Errorf("memory: create decision %s: %w", d.ID, domain.ErrAlreadyExists)
	}
	ds.s.decisions[d.ID] = d
	return nil
}

// CreateWithSetup inserts d and st under one lock.
func (ds *DecisionStore) CreateWithSetup(_ context.Context, d domain.Decision, st domain.Setup) error {
	ds.s.mu.Lock()
	defer ds.s.mu.Unlock()
	if _, ok := ds.s.decisions[d.ID]; ok {
		return fmt.Errorf("memory: create decision %s: %w", d.ID, domain.ErrAlreadyExists)
	}
	if _, ok := ds.s.setups[st.ID]; ok {
		return fmt.Errorf("memory: create setup %s: %w", st.ID, domain.ErrAlreadyExists)
	}
	if st.Version == 0 {
		st.Version = 1
	}
	ds.s.decisions[d.ID] = d
	ds.s.setups[st.ID] = st
	return nil
}

// GetByID returns the decision with the given id.
func (ds *DecisionStore) GetByID(_ context.Context, id string) (domain.Decision, error) {
	ds.s.mu.RLock()
	defer ds.s.mu.RUnlock()
	d, ok := ds.s.decisions[id]
	if !ok {
		return domain.Decision{}, fmt.Errorf("memory: get decision %s: %w", id, domain.ErrNotFound)
	}
	return d, nil
}

// ListRecent returns decisions newest first.
func (ds *DecisionStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Decision, error) {
	ds.s.mu.RLock()
	defer ds.s.mu.RUnlock()
	out := make([]domain.Decision, 0, len(ds.s.decisions))
	for _, d := range ds.s.decisions {
		if inRange(d.DecidedAt, opts) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.After(out[j].DecidedAt) })
	return page(out, opts), nil
}

// ListBefore returns decisions made strictly before the cutoff.
func (ds *DecisionStore) ListBefore(_ context.Context, before time.Time) ([]domain.Decision, error) {
	ds.s.mu.RLock()
	defer ds.s.mu.RUnlock()
	var out []domain.Decision
	for _, d := range ds.s.decisions {
		if d.DecidedAt.Before(before) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}

// SetupStore implements domain.SetupStore with version checks.
type SetupStore struct{ s *Store }

// Create inserts a new setup.
func (ss *SetupStore) Create(_ context.Context, st domain.Setup) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if _, ok := ss.s.setups[st.ID]; ok {
		return fmt.Errorf("memory: create setup %s: %w", st.ID, domain.ErrAlreadyExists)
	}
	if st.Version == 0 {
		st.Version = 1
	}
	ss.s.setups[st.ID] = st
	return nil
}

// GetByID returns the setup with the given id.
func (ss *SetupStore) GetByID(_ context.Context, id string) (domain.Setup, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	st, ok := ss.s.setups[id]
	if !ok {
		return domain.Setup{}, fmt.Errorf("memory: get setup %s: %w", id, domain.ErrNotFound)
	}
	return st, nil
}

// Update writes st if the stored version matches st.Version.
func (ss *SetupStore) Update(_ context.Context, st domain.Setup) (domain.Setup, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	cur, ok := ss.s.setups[st.ID]
	if !ok {
		return domain.Setup{}, fmt.Errorf("memory: update setup %s: %w", st.ID, domain.ErrNotFound)
	}
	if cur.Version != st.Version {
		return domain.Setup{}, fmt.Errorf("memory: update setup %s (have v%d, want v%d): %w",
			st.ID, cur.Version, st.Version, domain.ErrVersionConflict)
	}
	st.Version++
	ss.s.setups[st.ID] = st
	return st, nil
}

func (ss *SetupStore) filter(keep func(domain.Setup) bool) []domain.Setup {
	var out []domain.Setup
	for _, st := range ss.s.setups {
		if keep(st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListOpen returns the symbol's pending and entry_hit setups, oldest first.
func (ss *SetupStore) ListOpen(_ context.Context, symbol string) ([]domain.Setup, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	return ss.filter(func(st domain.Setup) bool {
		return st.Symbol == symbol && st.Status.Open()
	}), nil
}

// ListDue returns pending setups whose validity has elapsed.
func (ss *SetupStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Setup, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	out := ss.filter(func(st domain.Setup) bool {
		return st.Status == domain.SetupPending && !st.ValidUntil.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ValidUntil.Before(out[j].ValidUntil) })
	return page(out, domain.ListOpts{Limit: limit}), nil
}

// List returns setups matching f, newest first.
func (ss *SetupStore) List(_ context.Context, f domain.SetupFilter) ([]domain.Setup, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	out := ss.filter(func(st domain.Setup) bool {
		if f.Status != "" && st.Status != f.Status {
			return false
		}
		if f.Symbol != "" && st.Symbol != f.Symbol {
			return false
		}
		return inRange(st.CreatedAt, f.ListOpts)
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return page(out, f.ListOpts), nil
}

// CountOpen counts pending and entry_hit setups across all symbols.
func (ss *SetupStore) CountOpen(_ context.Context) (int, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	n := 0
	for _, st := range ss.s.setups {
		if st.Status.Open() {
			n++
		}
	}
	return n, nil
}

// ListUnanalyzed returns terminal setups with no lesson.
func (ss *SetupStore) ListUnanalyzed(_ context.Context, limit int) ([]domain.Setup, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	out := ss.filter(func(st domain.Setup) bool {
		_, has := ss.s.lessons[st.ID]
		return st.Status.Terminal() && !has
	})
	return page(out, domain.ListOpts{Limit: limit}), nil
}

// ListClosedBefore returns setups closed strictly before the cutoff.
func (ss *SetupStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Setup, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	return ss.filter(func(st domain.Setup) bool {
		return st.ClosedAt != nil && st.ClosedAt.Before(before)
	}), nil
}

// LessonStore implements domain.LessonStore.
type LessonStore struct{ s *Store }

// Create inserts l unless its setup already has a lesson.
func (ls *LessonStore) Create(_ context.Context, l domain.Lesson) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	if _, ok := ls.s.lessons[l.SetupID]; ok {
		return fmt.Errorf("memory: create lesson for setup %s: %w", l.SetupID, domain.ErrAlreadyExists)
	}
	ls.s.lessons[l.SetupID] = l
	return nil
}

// GetBySetup returns the lesson for a setup.
func (ls *LessonStore) GetBySetup(_ context.Context, setupID string) (domain.Lesson, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()
	l, ok := ls.s.lessons[setupID]
	if !ok {
		return domain.Lesson{}, fmt.Errorf("memory: get lesson for setup %s: %w", setupID, domain.ErrNotFound)
	}
	return l, nil
}

func (ls *LessonStore) sorted(keep func(domain.Lesson) bool) []domain.Lesson {
	var out []domain.Lesson
	for _, l := range ls.s.lessons {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// List returns lessons newest first.
func (ls *LessonStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Lesson, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()
	return page(ls.sorted(func(l domain.Lesson) bool { return inRange(l.CreatedAt, opts) }), opts), nil
}

// ListBefore returns lessons created strictly before the cutoff.
func (ls *LessonStore) ListBefore(_ context.Context, before time.Time) ([]domain.Lesson, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()
	return ls.sorted(func(l domain.Lesson) bool { return l.CreatedAt.Before(before) }), nil
}

// PriceStore implements domain.PriceStore.
type PriceStore struct{ s *Store }

// Append records an observation.
func (ps *PriceStore) Append(_ context.Context, obs domain.PriceObservation) error {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	ps.s.prices[obs.Symbol] = append(ps.s.prices[obs.Symbol], domain.PricePoint{
		Price: obs.Price, High: obs.High, Low: obs.Low, At: obs.ObservedAt,
	})
	return nil
}

// Path returns the symbol's observations in [from, to], ordered by time.
func (ps *PriceStore) Path(_ context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error) {
	ps.s.mu.RLock()
	defer ps.s.mu.RUnlock()
	var out []domain.PricePoint
	for _, p := range ps.s.prices[symbol] {
		if !p.At.Before(from) && !p.At.After(to) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Prune deletes observations strictly before the cutoff.
func (ps *PriceStore) Prune(_ context.Context, before time.Time) (int64, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	var n int64
	for sym, pts := range ps.s.prices {
		kept := pts[:0]
		for _, p := range pts {
			if p.At.Before(before) {
				n++
				continue
			}
			kept = append(kept, p)
		}
		ps.s.prices[sym] = kept
	}
	return n, nil
}

// CalendarStore implements domain.CalendarStore.
type CalendarStore struct{ s *Store }

// Upsert inserts or replaces an event by ID.
func (cs *CalendarStore) Upsert(_ context.Context, ev domain.CalendarEvent) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	cs.s.calendar[ev.ID] = ev
	return nil
}

// Between returns events scheduled in [from, to].
func (cs *CalendarStore) Between(_ context.Context, from, to time.Time) ([]domain.CalendarEvent, error) {
	cs.s.mu.RLock()
	defer cs.s.mu.RUnlock()
	var out []domain.CalendarEvent
	for _, ev := range cs.s.calendar {
		if !ev.ScheduledAt.Before(from) && !ev.ScheduledAt.After(to) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

// AttachmentStore implements domain.AttachmentStore.
type AttachmentStore struct{ s *Store }

// Create records an attachment.
func (as *AttachmentStore) Create(_ context.Context, a domain.ChartAttachment) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	as.s.attachments = append(as.s.attachments, a)
	return nil
}

// ListByRef returns attachments for a decision or setup in insertion order.
func (as *AttachmentStore) ListByRef(_ context.Context, refKind, refID string) ([]domain.ChartAttachment, error) {
	as.s.mu.RLock()
	defer as.s.mu.RUnlock()
	var out []domain.ChartAttachment
	for _, a := range as.s.attachments {
		if a.RefKind == refKind && a.RefID == refID {
			out = append(out, a)
		}
	}
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

// Log appends an audit entry.
func (au *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	au.s.mu.Lock()
	defer au.s.mu.Unlock()
	au.s.audit = append(au.s.audit, domain.AuditEntry{
		ID:        int64(len(au.s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns audit entries newest first.
func (au *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	au.s.mu.RLock()
	defer au.s.mu.RUnlock()
	out := make([]domain.AuditEntry, 0, len(au.s.audit))
	for i := len(au.s.audit) - 1; i >= 0; i-- {
		if inRange(au.s.audit[i].CreatedAt, opts) {
			out = append(out, au.s.audit[i])
		}
	}
	return page(out, opts), nil
}

var (
	_ domain.DecisionStore   = (*DecisionStore)(nil)
	_ domain.SetupStore      = (*SetupStore)(nil)
	_ domain.LessonStore     = (*LessonStore)(nil)
	_ domain.PriceStore      = (*PriceStore)(nil)
	_ domain.CalendarStore   = (*CalendarStore)(nil)
	_ domain.AttachmentStore = (*AttachmentStore)(nil)
	_ domain.AuditStore      = (*AuditStore)(nil)
)
