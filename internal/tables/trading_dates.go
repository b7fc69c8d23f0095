package tables

import (
	"context"
	"fmt"

	"github.com/roach88/tablesync/internal/event"
	"github.com/roach88/tablesync/internal/row"
	"github.com/roach88/tablesync/internal/table"
)

// Trading calendar columns.
const (
	ColFrom = "from"
	ColTill = "till"
)

// TradingDates is the exchange calendar: a single row with the first and the
// last trading day. It is the root of the update cascade.
type TradingDates struct {
	src table.Source
}

// NewTradingDates creates the calendar kind.
func NewTradingDates(src table.Source) *TradingDates {
	return &TradingDates{src: src}
}

func (k *TradingDates) Group() string { return GroupTradingDates }

func (k *TradingDates) Policy() table.Policy {
	return table.Policy{
		Index:       ColTill,
		Singleton:   true,
		FromScratch: true,
		Emits:       []event.Kind{event.KindTradingDayEnded},
	}
}

func (k *TradingDates) Fetch(ctx context.Context, name string, since row.Value) ([]row.Row, error) {
	return k.src.Fetch(ctx, name, since)
}

// Events raises trading_day_ended when the last trading day advanced.
func (k *TradingDates) Events(in table.EventInput) ([]event.Event, error) {
	if in.Rows == nil {
		return nil, table.NeverUpdated(in.ID)
	}

	till, ok, err := lastTill(in.Rows)
	if err != nil || !ok {
		return nil, err
	}
	prev, had, err := lastTill(in.Prev)
	if err != nil {
		return nil, err
	}
	if had && !till.After(prev.Time) {
		return nil, nil
	}
	return []event.Event{event.TradingDayEnded{Date: till.Time}}, nil
}

// Route is never called: the calendar subscribes to nothing.
func (k *TradingDates) Route(event.Event) (table.Route, bool) {
	return table.Route{}, false
}

func lastTill(rows []row.Row) (row.Time, bool, error) {
	if len(rows) == 0 {
		return row.Time{}, false, nil
	}
	v, ok := rows[len(rows)-1].Get(ColTill)
	if !ok {
		return row.Time{}, false, fmt.Errorf("calendar row has no %s", ColTill)
	}
	till, ok := v.(row.Time)
	if !ok {
		return row.Time{}, false, fmt.Errorf("calendar %s is %s, want time", ColTill, row.TypeName(v))
	}
	return till, true, nil
}
