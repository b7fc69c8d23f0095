package tables

import (
	"context"
	"fmt"

	"github.com/roach88/tablesync/internal/event"
	"github.com/roach88/tablesync/internal/row"
	"github.com/roach88/tablesync/internal/table"
)

// Security list columns.
const (
	ColTicker    = "ticker"
	ColISIN      = "isin"
	ColLotSize   = "lot_size"
	ColShortName = "short_name"
)

// Securities lists the shares traded on the main board. It reloads whenever
// a trading day ends and announces every listed ticker.
type Securities struct {
	src table.Source
}

// NewSecurities creates the security list kind.
func NewSecurities(src table.Source) *Securities {
	return &Securities{src: src}
}

func (k *Securities) Group() string { return GroupSecurities }

func (k *Securities) Policy() table.Policy {
	return table.Policy{
		Index:       ColTicker,
		Singleton:   true,
		FromScratch: true,
		Helper:      table.Singleton(GroupTradingDates),
		Emits:       []event.Kind{event.KindTickerTraded},
		Subscribes:  []event.Kind{event.KindTradingDayEnded},
	}
}

func (k *Securities) Fetch(ctx context.Context, name string, since row.Value) ([]row.Row, error) {
	return k.src.Fetch(ctx, name, since)
}

// Events raises one ticker_traded per row, in index order. The date is the
// trading day that triggered the reload, or the last completed session for
// a direct update.
func (k *Securities) Events(in table.EventInput) ([]event.Event, error) {
	if in.Rows == nil {
		return nil, table.NeverUpdated(in.ID)
	}

	date := in.TradingDay
	if ended, ok := in.Trigger.(event.TradingDayEnded); ok {
		date = ended.Date
	}

	events := make([]event.Event, 0, len(in.Rows))
	for i, r := range in.Rows {
		ticker, err := stringColumn(r, ColTicker)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", in.ID, i, err)
		}
		isin, err := stringColumn(r, ColISIN)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", in.ID, i, err)
		}
		events = append(events, event.TickerTraded{Ticker: ticker, ISIN: isin, Date: date})
	}
	return events, nil
}

// Route sends every trading_day_ended to the only security list and forces
// the reload.
func (k *Securities) Route(ev event.Event) (table.Route, bool) {
	if _, ok := ev.(event.TradingDayEnded); !ok {
		return table.Route{}, false
	}
	return table.Route{Name: GroupSecurities, Force: true}, true
}

func stringColumn(r row.Row, name string) (string, error) {
	v, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("no %s column", name)
	}
	s, ok := v.(row.String)
	if !ok {
		return "", fmt.Errorf("%s is %s, want string", name, row.TypeName(v))
	}
	return string(s), nil
}
