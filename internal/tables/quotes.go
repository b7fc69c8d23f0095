package tables

import (
	"context"

	"github.com/roach88/tablesync/internal/event"
	"github.com/roach88/tablesync/internal/row"
	"github.com/roach88/tablesync/internal/table"
)

// Quote columns.
const (
	ColDate   = "date"
	ColOpen   = "open"
	ColClose  = "close"
	ColHigh   = "high"
	ColLow    = "low"
	ColValue  = "value"
	ColVolume = "volume"
)

// Quotes is the daily price history of one ticker. Histories only grow, so
// updates are incremental unless configured otherwise.
type Quotes struct {
	src      table.Source
	settings Settings
}

// NewQuotes creates the quote history kind.
func NewQuotes(src table.Source, settings Settings) *Quotes {
	return &Quotes{src: src, settings: settings}
}

func (k *Quotes) Group() string { return GroupQuotes }

func (k *Quotes) Policy() table.Policy {
	return table.Policy{
		Index:       ColDate,
		FromScratch: k.settings.FromScratch,
		Validate:    k.settings.Validate,
		Helper:      table.Singleton(GroupTradingDates),
		Subscribes:  []event.Kind{event.KindTickerTraded},
	}
}

func (k *Quotes) Fetch(ctx context.Context, name string, since row.Value) ([]row.Row, error) {
	return k.src.Fetch(ctx, name, since)
}

// Events returns nothing: quotes are a leaf of the cascade.
func (k *Quotes) Events(table.EventInput) ([]event.Event, error) {
	return nil, nil
}

// Route sends ticker_traded to that ticker's history. The update still
// honors freshness, so a ticker refreshed after the session closed is
// skipped.
func (k *Quotes) Route(ev event.Event) (table.Route, bool) {
	traded, ok := ev.(event.TickerTraded)
	if !ok || traded.Ticker == "" {
		return table.Route{}, false
	}
	return table.Route{Name: traded.Ticker}, true
}
