package mongostore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/tablesync/internal/row"
)

func encodeRows(rows []row.Row) ([]bson.D, error) {
	out := make([]bson.D, 0, len(rows))
	for i, r := range rows {
		d, err := encodeRow(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// encodeRow keeps column order.
func encodeRow(r row.Row) (bson.D, error) {
	d := make(bson.D, 0, len(r))
	for _, f := range r {
		v, err := encodeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		d = append(d, bson.E{Key: f.Name, Value: v})
	}
	return d, nil
}

func encodeValue(v row.Value) (any, error) {
	switch val := v.(type) {
	case row.String:
		return string(val), nil
	case row.Int:
		return int64(val), nil
	case row.Bool:
		return bool(val), nil
	case row.Decimal:
		d, err := primitive.ParseDecimal128(val.String())
		if err != nil {
			return nil, fmt.Errorf("decimal %s: %w", val.String(), err)
		}
		return d, nil
	case row.Time:
		return primitive.NewDateTimeFromTime(val.Time), nil
	default:
		return nil, fmt.Errorf("unsupported value %s", row.TypeName(v))
	}
}

func decodeRows(docs []bson.D) ([]row.Row, error) {
	rows := make([]row.Row, 0, len(docs))
	for i, d := range docs {
		r, err := decodeRow(d)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func decodeRow(d bson.D) (row.Row, error) {
	r := make(row.Row, 0, len(d))
	for _, e := range d {
		v, err := decodeValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", e.Key, err)
		}
		r = append(r, row.F(e.Key, v))
	}
	return r, nil
}

func decodeValue(v any) (row.Value, error) {
	switch val := v.(type) {
	case string:
		return row.String(val), nil
	case int32:
		return row.Int(val), nil
	case int64:
		return row.Int(val), nil
	case bool:
		return row.Bool(val), nil
	case primitive.Decimal128:
		return row.ParseDecimal(val.String())
	case primitive.DateTime:
		return row.NewTime(val.Time()), nil
	default:
		return nil, fmt.Errorf("unsupported bson value %T", v)
	}
}
