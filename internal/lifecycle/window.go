package lifecycle

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Windows maps timeframe classes to how long a pending setup stays valid.
type Windows struct {
	Intraday time.Duration
	Swing    time.Duration
	MultiDay time.Duration
	Default  time.Duration
}

// DefaultWindows returns 6h intraday, 48h swing, 120h multi-day and 24h for
// anything unrecognised.
func DefaultWindows() Windows {
	return Windows{
		Intraday: 6 * time.Hour,
		Swing:    48 * time.Hour,
		MultiDay: 120 * time.Hour,
		Default:  24 * time.Hour,
	}
}

// withDefaults fills zero fields from DefaultWindows.
func (w Windows) withDefaults() Windows {
	def := DefaultWindows()
	if w.Intraday <= 0 {
		w.Intraday = def.Intraday
	}
	if w.Swing <= 0 {
		w.Swing = def.Swing
	}
	if w.MultiDay <= 0 {
		w.MultiDay = def.MultiDay
	}
	if w.Default <= 0 {
		w.Default = def.Default
	}
	return w
}

// For returns the validity window for a timeframe tag. Bars up to 15 minutes
// are intraday, anything shorter than a day is swing, a day or more is
// multi-day.
func (w Windows) For(timeframe string) time.Duration {
	w = w.withDefaults()
	d, ok := ParseTimeframe(timeframe)
	switch {
	case !ok:
		return w.Default
	case d <= 15*time.Minute:
		return w.Intraday
	case d < 24*time.Hour:
		return w.Swing
	default:
		return w.MultiDay
	}
}

var (
	suffixForm = regexp.MustCompile(`^(\d+)\s*(s|sec|m|min|mins|h|hr|hrs|d|day|days|w|wk|mo|mon)$`)
	prefixForm = regexp.MustCompile(`^(mn|m|h|d|w)(\d+)$`)
)

// ParseTimeframe converts tags such as "tick", "15m", "15min", "M15", "1h",
// "H4", "1d", "D1", "1w" or "MN1" to a bar duration. A tick is zero.
func ParseTimeframe(tf string) (time.Duration, bool) {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if tf == "" {
		return 0, false
	}
	if tf == "tick" || tf == "t" {
		return 0, true
	}

	var (
		n    int
		unit string
		err  error
	)
	if m := suffixForm.FindStringSubmatch(tf); m != nil {
		n, err = strconv.Atoi(m[1])
		unit = m[2]
	} else if m := prefixForm.FindStringSubmatch(tf); m != nil {
		n, err = strconv.Atoi(m[2])
		unit = m[1]
	} else {
		return 0, false
	}
	if err != nil || n <= 0 {
		return 0, false
	}

	var base time.Duration
	switch unit {
	case "s", "sec":
		base = time.Second
	case "m", "min", "mins":
		base = time.Minute
	case "h", "hr", "hrs":
		base = time.Hour
	case "d", "day", "days":
		base = 24 * time.Hour
	case "w", "wk":
		base = 7 * 24 * time.Hour
	case "mo", "mon", "mn":
		base = 30 * 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(n) * base, true
}
