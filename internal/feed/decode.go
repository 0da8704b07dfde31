// Package feed brings price observations into the tracker from the bus and
// from an upstream WebSocket.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Submitter accepts observations without blocking.
type Submitter interface {
	Submit(obs domain.PriceObservation) bool
}

// wireObservation is the accepted JSON shape. observed_at may be RFC 3339 or
// Unix milliseconds; "ts" is accepted as an alias.
type wireObservation struct {
	Symbol     string          `json:"symbol"`
	Price      float64         `json:"price"`
	High       float64         `json:"high"`
	Low        float64         `json:"low"`
	ObservedAt json.RawMessage `json:"observed_at"`
	TS         json.RawMessage `json:"ts"`
}

// Decode parses one observation or a JSON array of them. A missing timestamp
// is filled with now.
func Decode(data []byte, now time.Time) ([]domain.PriceObservation, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("feed: empty payload: %w", domain.ErrInvalidProposal)
	}

	var wires []wireObservation
	if data[0] == '[' {
		if err := json.Unmarshal(data, &wires); err != nil {
			return nil, fmt.Errorf("feed: decode batch: %v: %w", err, domain.ErrInvalidProposal)
		}
	} else {
		var w wireObservation
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("feed: decode: %v: %w", err, domain.ErrInvalidProposal)
		}
		wires = []wireObservation{w}
	}

	out := make([]domain.PriceObservation, 0, len(wires))
	for i, w := range wires {
		sym := strings.TrimSpace(w.Symbol)
		if sym == "" {
			return nil, fmt.Errorf("feed: observation %d: symbol is required: %w", i, domain.ErrInvalidProposal)
		}
		raw := w.ObservedAt
		if len(raw) == 0 {
			raw = w.TS
		}
		at, err := parseTime(raw, now)
		if err != nil {
			return nil, fmt.Errorf("feed: observation %d: %v: %w", i, err, domain.ErrInvalidProposal)
		}
		out = append(out, domain.PriceObservation{
			Symbol:     sym,
			Price:      w.Price,
			High:       w.High,
			Low:        w.Low,
			ObservedAt: at,
		})
	}
	return out, nil
}

func parseTime(raw json.RawMessage, now time.Time) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return now.UTC(), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("observed_at: %w", err)
		}
		return t.UTC(), nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("observed_at: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
