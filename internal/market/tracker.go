// Package market keeps a short in-memory price history per symbol and derives
// the trend and volatility signals the risk evaluator consumes.
package market

import (
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Config controls the tracker window and signal parameters.
type Config struct {
	// Window is how far back history extends; older points are discarded on
	// every Track call.
	Window time.Duration
	// MaxPoints caps the history length per symbol.
	MaxPoints int
	// FastPeriod and SlowPeriod are EMA periods in points.
	FastPeriod int
	SlowPeriod int
	// TrendGain scales the relative EMA spread before tanh.
	TrendGain float64
	// RecentPoints is how many trailing points make up "recent" volatility.
	RecentPoints int
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		Window:       72 * time.Hour,
		MaxPoints:    5000,
		FastPeriod:   12,
		SlowPeriod:   48,
		TrendGain:    50,
		RecentPoints: 30,
	}
}

// Signal is the derived market state for one symbol.
type Signal struct {
	Trend                float64
	RecentVolatility     float64
	HistoricalVolatility float64
	Points               int
}

// PriceTracker maintains a sliding window of observations per symbol. It is
// safe for concurrent use.
type PriceTracker struct {
	cfg     Config
	mu      sync.RWMutex
	history map[string][]domain.PricePoint
}

// NewPriceTracker creates a PriceTracker. Zero fields in cfg take defaults.
func NewPriceTracker(cfg Config) *PriceTracker {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = def.MaxPoints
	}
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = def.FastPeriod
	}
	if cfg.SlowPeriod <= cfg.FastPeriod {
		cfg.SlowPeriod = max(def.SlowPeriod, cfg.FastPeriod*4)
	}
	if cfg.TrendGain <= 0 {
		cfg.TrendGain = def.TrendGain
	}
	if cfg.RecentPoints < 2 {
		cfg.RecentPoints = def.RecentPoints
	}
	return &PriceTracker{cfg: cfg, history: make(map[string][]domain.PricePoint)}
}

// Track records obs. Points older than the newest one are inserted in order;
// the window is trimmed relative to the newest point.
func (pt *PriceTracker) Track(obs domain.PriceObservation) {
	p := domain.PricePoint{Price: obs.Price, High: obs.High, Low: obs.Low, At: obs.ObservedAt}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	pts := pt.history[obs.Symbol]
	i := len(pts)
	for i > 0 && pts[i-1].At.After(p.At) {
		i--
	}
	pts = append(pts, domain.PricePoint{})
	copy(pts[i+1:], pts[i:])
	pts[i] = p
	pt.history[obs.Symbol] = pt.trim(pts)
}

// History returns a copy of the window for symbol.
func (pt *PriceTracker) History(symbol string) []domain.PricePoint {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	src := pt.history[symbol]
	if len(src) == 0 {
		return nil
	}
	out := make([]domain.PricePoint, len(src))
	copy(out, src)
	return out
}

// Signal derives the trend and volatility for symbol. ok is false when fewer
// than two points are known.
func (pt *PriceTracker) Signal(symbol string) (Signal, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[symbol]
	if len(pts) < 2 {
		return Signal{Points: len(pts)}, false
	}

	fast := ema(pts, pt.cfg.FastPeriod)
	slow := ema(pts, pt.cfg.SlowPeriod)
	var trend float64
	if slow > 0 {
		trend = math.Tanh(pt.cfg.TrendGain * (fast - slow) / slow)
	}

	recent := pts
	if len(recent) > pt.cfg.RecentPoints {
		recent = recent[len(recent)-pt.cfg.RecentPoints:]
	}
	return Signal{
		Trend:                trend,
		RecentVolatility:     logReturnStdDev(recent),
		HistoricalVolatility: logReturnStdDev(pts),
		Points:               len(pts),
	}, true
}

// Symbols lists the symbols with tracked history.
func (pt *PriceTracker) Symbols() []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make([]string, 0, len(pt.history))
	for s := range pt.history {
		out = append(out, s)
	}
	return out
}

// trim drops points outside the window and beyond MaxPoints. The caller must
// hold pt.mu.
func (pt *PriceTracker) trim(pts []domain.PricePoint) []domain.PricePoint {
	if len(pts) == 0 {
		return pts
	}
	cutoff := pts[len(pts)-1].At.Add(-pt.cfg.Window)
	i := 0
	for i < len(pts) && pts[i].At.Before(cutoff) {
		i++
	}
	if over := len(pts) - i - pt.cfg.MaxPoints; over > 0 {
		i += over
	}
	if i == 0 {
		return pts
	}
	return append([]domain.PricePoint(nil), pts[i:]...)
}

// ema seeds with the first price and smooths with alpha = 2/(n+1).
func ema(pts []domain.PricePoint, period int) float64 {
	alpha := 2 / float64(period+1)
	v := pts[0].Price
	for _, p := range pts[1:] {
		v = alpha*p.Price + (1-alpha)*v
	}
	return v
}

// logReturnStdDev is the population standard deviation of ln(p[i]/p[i-1]).
func logReturnStdDev(pts []domain.PricePoint) float64 {
	if len(pts) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		prev, cur := pts[i-1].Price, pts[i].Price
		if prev <= 0 || cur <= 0 {
			continue
		}
		rets = append(rets, math.Log(cur/prev))
	}
	if len(rets) < 2 {
		return 0
	}
	var sum float64
	for _, r := range rets {
		sum += r
	}
	mean := sum / float64(len(rets))
	var variance float64
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(rets)))
}
