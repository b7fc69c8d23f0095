package row

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Value is a sealed interface over the scalar column types.
// Only String, Int, Bool, Decimal and Time implement it.
type Value interface {
	rowValue()
}

// String is a text column value.
type String string

func (String) rowValue() {}

// Int is an integer column value. Always int64.
type Int int64

func (Int) rowValue() {}

// Bool is a boolean column value.
type Bool bool

func (Bool) rowValue() {}

// Decimal is an exact decimal column value (prices, turnover).
type Decimal struct {
	decimal.Decimal
}

func (Decimal) rowValue() {}

// Time is an instant, always normalized to UTC. Calendar dates are
// represented as midnight UTC (see Date).
type Time struct {
	time.Time
}

func (Time) rowValue() {}

// NewDecimal wraps a decimal.Decimal.
func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{Decimal: d}
}

// ParseDecimal parses a decimal literal such as "102.35".
func ParseDecimal(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return Decimal{Decimal: d}, nil
}

// MustDecimal is ParseDecimal that panics on malformed input. For literals in tests and tables.
func MustDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewTime converts t to UTC.
func NewTime(t time.Time) Time {
	return Time{Time: t.UTC()}
}

// Date returns midnight UTC of the given calendar day.
func Date(year int, month time.Month, day int) Time {
	return Time{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO date ("2006-01-02") as midnight UTC.
func ParseDate(s string) (Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Time{Time: t}, nil
}

// TypeName returns the variant name used in error messages.
func TypeName(v Value) string {
	switch v.(type) {
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Decimal:
		return "decimal"
	case Time:
		return "time"
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Compare orders two values of the same variant.
// Returns -1, 0 or +1. Values of different variants are incomparable.
func Compare(a, b Value) (int, error) {
	switch av := a.(type) {
	case String:
		if bv, ok := b.(String); ok {
			return strings.Compare(string(av), string(bv)), nil
		}
	case Int:
		if bv, ok := b.(Int); ok {
			return cmp.Compare(av, bv), nil
		}
	case Bool:
		if bv, ok := b.(Bool); ok {
			switch {
			case av == bv:
				return 0, nil
			case !bool(av):
				return -1, nil
			default:
				return 1, nil
			}
		}
	case Decimal:
		if bv, ok := b.(Decimal); ok {
			return av.Cmp(bv.Decimal), nil
		}
	case Time:
		if bv, ok := b.(Time); ok {
			return av.Compare(bv.Time), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %s with %s", TypeName(a), TypeName(b))
}

// Format renders a value for humans (logs, CLI text output).
func Format(v Value) string {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return fmt.Sprintf("%d", int64(val))
	case Bool:
		return fmt.Sprintf("%t", bool(val))
	case Decimal:
		return val.String()
	case Time:
		if val.Equal(val.Truncate(24 * time.Hour)) {
			return val.Format(time.DateOnly)
		}
		return val.Format(time.RFC3339Nano)
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%v", v)
	}
}
