package row

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Canonical produces the canonical JSON form of a row.
// This is the only encoding that may be used to compare history.
//
// Differences from json.Marshal:
//  1. Keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping
//  3. Strings are NFC normalized
//  4. Decimals use their shortest exact form, so "1.50" equals "1.5"
func Canonical(r Row) ([]byte, error) {
	fields := slices.Clone(r)
	slices.SortStableFunc(fields, func(a, b Field) int {
		return compareKeysRFC8785(a.Name, b.Name)
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := canonicalString(f.Name)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := CanonicalValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", f.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// CanonicalValue produces the canonical JSON form of a single value.
func CanonicalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case String:
		return canonicalString(string(val))
	case Int:
		return []byte(fmt.Sprintf("%d", int64(val))), nil
	case Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case Decimal:
		return []byte(`{"$numberDecimal":"` + val.String() + `"}`), nil
	case Time:
		return []byte(`{"$date":"` + val.UTC().Format(time.RFC3339Nano) + `"}`), nil
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical rows")
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// canonicalString encodes s as a JSON string after NFC normalization,
// without HTML escaping.
func canonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// compareKeysRFC8785 compares strings by UTF-16 code units.
// Go's string comparison uses UTF-8 bytes, which orders some keys differently.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}
