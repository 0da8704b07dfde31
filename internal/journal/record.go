// Package journal is the fire-and-forget bridge that copies decisions,
// closed setups and lessons into append-only sinks.
package journal

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Kind tags a journal record.
type Kind string

const (
	KindDecision    Kind = "decision"
	KindSetupClosed Kind = "setup_closed"
	KindLesson      Kind = "lesson"
)

// Record is one journal entry. IDs are monotonic ULIDs so sorting by ID
// equals sorting by emission order.
type Record struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Symbol  string          `json:"symbol"`
	RefID   string          `json:"ref_id"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

var (
	entropyMu sync.Mutex
	entropy   io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	entropy = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewID returns a ULID stamped with the current time.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewRecord marshals payload into a Record with a fresh ID.
func NewRecord(kind Kind, symbol, refID string, at time.Time, payload any) (Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("journal: marshal %s payload: %w", kind, err)
	}
	return Record{
		ID:      NewID(),
		Kind:    kind,
		Symbol:  symbol,
		RefID:   refID,
		At:      at.UTC(),
		Payload: raw,
	}, nil
}

// DecisionRecord builds the record for a decision.
func DecisionRecord(d domain.Decision) (Record, error) {
	return NewRecord(KindDecision, d.Proposal.Symbol, d.ID, d.DecidedAt, d)
}

// SetupClosedRecord builds the record for a setup reaching a terminal state.
func SetupClosedRecord(s domain.Setup) (Record, error) {
	at := s.CreatedAt
	if s.ClosedAt != nil {
		at = *s.ClosedAt
	}
	return NewRecord(KindSetupClosed, s.Symbol, s.ID, at, s)
}

// LessonRecord builds the record for a lesson on a setup of symbol.
func LessonRecord(l domain.Lesson, symbol string) (Record, error) {
	return NewRecord(KindLesson, symbol, l.SetupID, l.CreatedAt, l)
}
