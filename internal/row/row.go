package row

import (
	"bytes"
	"slices"
)

// Field is one named column value inside a Row.
type Field struct {
	Name  string
	Value Value
}

// F is a shorthand for Field construction.
// Example: row.New(row.F("date", row.Date(2021, 3, 5)), row.F("close", row.MustDecimal("4.5")))
func F(name string, value Value) Field {
	return Field{Name: name, Value: value}
}

// Row is an ordered mapping of column name to Value.
// Column order is preserved by JSON encoding but ignored by Equal.
type Row []Field

// New builds a row from fields in the given order.
func New(fields ...Field) Row {
	return Row(fields)
}

// Get returns the value of the named column.
func (r Row) Get(name string) (Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Columns returns the column names in row order.
func (r Row) Columns() []string {
	cols := make([]string, len(r))
	for i, f := range r {
		cols[i] = f.Name
	}
	return cols
}

// Clone returns a copy that shares no backing array with r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	return slices.Clone(r)
}

// String renders the row as canonical JSON, for error messages.
func (r Row) String() string {
	data, err := Canonical(r)
	if err != nil {
		return "<invalid row: " + err.Error() + ">"
	}
	return string(data)
}

// Equal reports whether two rows hold the same columns with byte-for-byte
// equal canonical values. Column order does not matter.
func Equal(a, b Row) bool {
	if len(a) != len(b) {
		return false
	}
	ca, err := Canonical(a)
	if err != nil {
		return false
	}
	cb, err := Canonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// CloneAll deep-copies a row sequence. A nil input stays nil so that the
// "never updated" state survives copying.
func CloneAll(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
