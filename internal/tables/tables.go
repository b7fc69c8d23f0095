// Package tables defines the market data table groups: the trading
// calendar, the list of traded securities and per-ticker quote history.
//
// Updating the calendar raises trading_day_ended when a new session closes.
// That forces a reload of the security list, which raises ticker_traded for
// every listed security, which in turn refreshes each ticker's quotes.
package tables

import (
	"fmt"

	"github.com/roach88/tablesync/internal/table"
)

// Table groups.
const (
	GroupTradingDates = "trading_dates"
	GroupSecurities   = "securities"
	GroupQuotes       = "quotes"
)

// Sources supplies the upstream for every group.
type Sources struct {
	TradingDates table.Source
	Securities   table.Source
	Quotes       table.Source
}

// Settings overrides the merge policy of a group.
type Settings struct {
	FromScratch bool
	Validate    table.ValidateMode
}

// NewRegistry registers all market groups in dispatch order. settings is
// keyed by group; only quotes takes settings, the other groups always reload.
func NewRegistry(src Sources, settings map[string]Settings) (*table.Registry, error) {
	for group := range settings {
		switch group {
		case GroupQuotes:
		case GroupTradingDates, GroupSecurities:
			return nil, fmt.Errorf("group %q always reloads and takes no settings", group)
		default:
			return nil, fmt.Errorf("settings for unknown group %q", group)
		}
	}
	if src.TradingDates == nil || src.Securities == nil || src.Quotes == nil {
		return nil, fmt.Errorf("every group needs a source")
	}

	return table.NewRegistry(
		NewTradingDates(src.TradingDates),
		NewSecurities(src.Securities),
		NewQuotes(src.Quotes, settings[GroupQuotes]),
	)
}
