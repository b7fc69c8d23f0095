// Package freshness computes the "data as of" threshold that decides whether
// a table is stale.
//
// The threshold is the end of the most recent completed trading session. It
// comes either from a helper table (whose last refresh says the session has
// closed) or from a calendar rule: local exchange time, with a cutoff after
// midnight at which the previous day's data is final.
package freshness

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Defaults match the Moscow Exchange: the previous session's data is final at
// 00:45 Moscow time.
const (
	DefaultTimezone = "Europe/Moscow"
	DefaultCutoff   = 45 * time.Minute
)

// Clock supplies the current instant. Injected for determinism.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Stamped is anything with an optional last-refresh timestamp.
type Stamped interface {
	Timestamp() (time.Time, bool)
}

// Helper is an optional companion table: either NoHelper() or HelperOf(t).
type Helper struct {
	table Stamped
}

// NoHelper returns the empty Helper.
func NoHelper() Helper {
	return Helper{}
}

// HelperOf wraps t. A nil t yields NoHelper().
func HelperOf(t Stamped) Helper {
	return Helper{table: t}
}

// Get returns the helper table if present.
func (h Helper) Get() (Stamped, bool) {
	return h.table, h.table != nil
}

// Policy computes freshness thresholds. It has no side effects.
type Policy struct {
	clock  Clock
	loc    *time.Location
	cutoff time.Duration
}

// Option configures a Policy.
type Option func(*Policy)

// WithLocation sets the exchange time zone.
func WithLocation(loc *time.Location) Option {
	return func(p *Policy) {
		p.loc = loc
	}
}

// WithCutoff sets the offset from local midnight at which the previous
// session is considered complete.
func WithCutoff(cutoff time.Duration) Option {
	return func(p *Policy) {
		p.cutoff = cutoff
	}
}

// New creates a Policy with the Moscow defaults unless overridden.
func New(clock Clock, opts ...Option) (*Policy, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	p := &Policy{
		clock:  clock,
		cutoff: DefaultCutoff,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.loc == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("load time zone %s: %w", DefaultTimezone, err)
		}
		p.loc = loc
	}
	if p.cutoff < 0 || p.cutoff >= 24*time.Hour {
		return nil, fmt.Errorf("cutoff %s must be within one day", p.cutoff)
	}

	return p, nil
}

// Threshold returns the instant before which a table's last refresh is stale.
//
// A helper that has been refreshed at least once supplies the threshold
// directly. Without one, or when the helper was never refreshed, the
// calendar rule applies.
func (p *Policy) Threshold(h Helper) time.Time {
	if t, ok := h.Get(); ok {
		if ts, ok := t.Timestamp(); ok {
			return ts
		}
	}
	return p.EndOfTradingDay()
}

// EndOfTradingDay applies the calendar rule: today's cutoff in exchange time
// if it has passed, otherwise yesterday's. Returned in UTC.
func (p *Policy) EndOfTradingDay() time.Time {
	now := p.clock.Now().In(p.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.loc)

	end := midnight.Add(p.cutoff)
	if end.After(now) {
		end = midnight.AddDate(0, 0, -1).Add(p.cutoff)
	}
	return end.UTC()
}

// LastTradingDay returns the calendar date of the most recent session whose
// data is final, as midnight UTC.
func (p *Policy) LastTradingDay() time.Time {
	end := p.EndOfTradingDay().In(p.loc)
	return time.Date(end.Year(), end.Month(), end.Day()-1, 0, 0, 0, 0, time.UTC)
}

// Now exposes the policy clock so callers stamp commits with the same time
// source the threshold is derived from.
func (p *Policy) Now() time.Time {
	return p.clock.Now()
}

// Location returns the exchange time zone.
func (p *Policy) Location() *time.Location {
	return p.loc
}
