package event

import (
	"sort"
	"strings"
	"time"
)

// Kind names an event type. Subscriptions are keyed by Kind.
type Kind string

const (
	// KindTradingDayEnded is raised when the trading calendar gains a new day.
	KindTradingDayEnded Kind = "trading_day_ended"

	// KindTickerTraded is raised once per security present after a
	// security list reload.
	KindTickerTraded Kind = "ticker_traded"
)

// Event is an immutable fact raised by a table. Implemented by
// TradingDayEnded and TickerTraded only.
type Event interface {
	Kind() Kind
	// Payload returns the event fields as strings for logs and traces.
	Payload() map[string]string
	event()
}

// TradingDayEnded reports that Date is the last completed trading session.
type TradingDayEnded struct {
	Date time.Time
}

func (TradingDayEnded) Kind() Kind { return KindTradingDayEnded }

func (e TradingDayEnded) Payload() map[string]string {
	return map[string]string{"date": e.Date.Format(time.DateOnly)}
}

func (TradingDayEnded) event() {}

// TickerTraded reports that a security was listed as of Date.
type TickerTraded struct {
	Ticker string
	ISIN   string
	Date   time.Time
}

func (TickerTraded) Kind() Kind { return KindTickerTraded }

func (e TickerTraded) Payload() map[string]string {
	return map[string]string{
		"ticker": e.Ticker,
		"isin":   e.ISIN,
		"date":   e.Date.Format(time.DateOnly),
	}
}

func (TickerTraded) event() {}

// Format renders an event as "kind key=value ..." with keys sorted.
func Format(ev Event) string {
	payload := ev.Payload()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(ev.Kind()))
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(payload[k])
	}
	return b.String()
}
