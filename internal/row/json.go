package row

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	decimalTag = "$numberDecimal"
	dateTag    = "$date"
)

// MarshalJSON encodes the row as a JSON object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := MarshalValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", f.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue encodes a single value. Decimal and Time use tagged objects.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Decimal:
		return json.Marshal(map[string]string{decimalTag: val.String()})
	case Time:
		return json.Marshal(map[string]string{dateTag: val.UTC().Format(time.RFC3339Nano)})
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// UnmarshalJSON decodes a JSON object into a row, preserving key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row must be a JSON object, got %v", tok)
	}

	out := Row{}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("row key must be a string, got %v", tok)
		}
		if seen[name] {
			return fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		val, err := UnmarshalValue(raw)
		if err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		out = append(out, Field{Name: name, Value: val})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

// UnmarshalValue decodes one JSON value produced by MarshalValue.
// Floats and null are rejected: prices must arrive as tagged decimals.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return nil, fmt.Errorf("null is not a valid column value")

	case '{':
		var tagged map[string]string
		if err := json.Unmarshal(data, &tagged); err != nil {
			return nil, fmt.Errorf("tagged value: %w", err)
		}
		if len(tagged) != 1 {
			return nil, fmt.Errorf("tagged value must have exactly one key: %s", data)
		}
		if s, ok := tagged[decimalTag]; ok {
			return ParseDecimal(s)
		}
		if s, ok := tagged[dateTag]; ok {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", dateTag, err)
			}
			return NewTime(t), nil
		}
		return nil, fmt.Errorf("unknown tagged value: %s", data)

	default:
		s := string(data)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed, use %s: %s", decimalTag, s)
		}
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(i), nil
	}
}
