package iss

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/segmentio/encoding/json"

	"github.com/roach88/tablesync/internal/row"
	"github.com/roach88/tablesync/internal/table"
	"github.com/roach88/tablesync/internal/tables"
)

// Board is the main shares board the gateway reads.
const Board = "TQBR"

const (
	datesPath      = "/history/engines/stock/markets/shares/dates.json"
	securitiesPath = "/engines/stock/markets/shares/boards/" + Board + "/securities.json"
	historyPath    = "/history/engines/stock/markets/shares/boards/" + Board + "/securities/%s.json"
)

// Sources returns the upstream of every table group.
func (c *Client) Sources() tables.Sources {
	return tables.Sources{
		TradingDates: sourceFunc(c.TradingDates),
		Securities:   sourceFunc(c.Securities),
		Quotes:       sourceFunc(c.Quotes),
	}
}

type sourceFunc func(ctx context.Context, name string, since row.Value) ([]row.Row, error)

func (f sourceFunc) Fetch(ctx context.Context, name string, since row.Value) ([]row.Row, error) {
	return f(ctx, name, since)
}

var _ table.Source = sourceFunc(nil)

// TradingDates fetches the single calendar row {from, till}. name and since
// are ignored; the calendar always reloads.
func (c *Client) TradingDates(ctx context.Context, _ string, _ row.Value) ([]row.Row, error) {
	resp, err := c.get(ctx, "dates", datesPath, nil)
	if err != nil {
		return nil, err
	}
	recs, err := resp.records("dates")
	if err != nil {
		return nil, err
	}

	rows := make([]row.Row, 0, len(recs))
	for _, rec := range recs {
		from, err := dateField(rec, "from")
		if err != nil {
			return nil, err
		}
		till, err := dateField(rec, "till")
		if err != nil {
			return nil, err
		}
		rows = append(rows, row.New(row.F(tables.ColFrom, from), row.F(tables.ColTill, till)))
	}
	return rows, nil
}

// Securities fetches the shares listed on the board, ordered by ticker.
func (c *Client) Securities(ctx context.Context, _ string, _ row.Value) ([]row.Row, error) {
	resp, err := c.get(ctx, "securities", securitiesPath, url.Values{
		"securities.columns": {"SECID,ISIN,LOTSIZE,SHORTNAME"},
	})
	if err != nil {
		return nil, err
	}
	recs, err := resp.records("securities")
	if err != nil {
		return nil, err
	}

	rows := make([]row.Row, 0, len(recs))
	for _, rec := range recs {
		ticker, err := stringField(rec, "SECID")
		if err != nil {
			return nil, err
		}
		isin, err := stringField(rec, "ISIN")
		if err != nil {
			return nil, err
		}
		lot, err := intField(rec, "LOTSIZE")
		if err != nil {
			return nil, err
		}
		name, err := stringField(rec, "SHORTNAME")
		if err != nil {
			return nil, err
		}
		rows = append(rows, row.New(
			row.F(tables.ColTicker, ticker),
			row.F(tables.ColISIN, isin),
			row.F(tables.ColLotSize, lot),
			row.F(tables.ColShortName, name),
		))
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := rows[i].Get(tables.ColTicker)
		b, _ := rows[j].Get(tables.ColTicker)
		return a.(row.String) < b.(row.String)
	})
	return rows, nil
}

// Quotes fetches the daily history of ticker starting at since (inclusive),
// or the whole history when since is nil. ISS pages the history; pages are
// requested until one comes back empty. Days without trades are skipped.
func (c *Client) Quotes(ctx context.Context, ticker string, since row.Value) ([]row.Row, error) {
	query := url.Values{
		"history.columns": {"TRADEDATE,OPEN,CLOSE,HIGH,LOW,VALUE,VOLUME"},
	}
	switch s := since.(type) {
	case nil:
	case row.Time:
		query.Set("from", s.Format("2006-01-02"))
	default:
		return nil, fmt.Errorf("quotes %s: since must be a date, got %s", ticker, row.TypeName(since))
	}

	path := fmt.Sprintf(historyPath, url.PathEscape(ticker))
	var rows []row.Row
	for start := 0; ; {
		query.Set("start", strconv.Itoa(start))
		resp, err := c.get(ctx, "history", path, query)
		if err != nil {
			return nil, err
		}
		recs, err := resp.records("history")
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			break
		}
		start += len(recs)

		for _, rec := range recs {
			r, ok, err := quoteRow(rec)
			if err != nil {
				return nil, fmt.Errorf("quotes %s: %w", ticker, err)
			}
			if ok {
				rows = append(rows, r)
			}
		}
	}
	return rows, nil
}

func quoteRow(rec map[string]any) (row.Row, bool, error) {
	date, err := dateField(rec, "TRADEDATE")
	if err != nil {
		return nil, false, err
	}
	if rec["CLOSE"] == nil {
		return nil, false, nil
	}

	r := row.New(row.F(tables.ColDate, date))
	for _, col := range []struct{ iss, name string }{
		{"OPEN", tables.ColOpen},
		{"CLOSE", tables.ColClose},
		{"HIGH", tables.ColHigh},
		{"LOW", tables.ColLow},
		{"VALUE", tables.ColValue},
	} {
		d, err := decimalField(rec, col.iss)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", date.Format("2006-01-02"), err)
		}
		r = append(r, row.F(col.name, d))
	}
	vol, err := intField(rec, "VOLUME")
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", date.Format("2006-01-02"), err)
	}
	return append(r, row.F(tables.ColVolume, vol)), true, nil
}

func stringField(rec map[string]any, col string) (row.String, error) {
	s, ok := rec[col].(string)
	if !ok {
		return "", fmt.Errorf("column %s: want string, got %T", col, rec[col])
	}
	return row.String(s), nil
}

func dateField(rec map[string]any, col string) (row.Time, error) {
	s, ok := rec[col].(string)
	if !ok {
		return row.Time{}, fmt.Errorf("column %s: want date, got %T", col, rec[col])
	}
	return row.ParseDate(s)
}

func decimalField(rec map[string]any, col string) (row.Decimal, error) {
	n, ok := rec[col].(json.Number)
	if !ok {
		return row.Decimal{}, fmt.Errorf("column %s: want number, got %T", col, rec[col])
	}
	return row.ParseDecimal(n.String())
}

func intField(rec map[string]any, col string) (row.Int, error) {
	n, ok := rec[col].(json.Number)
	if !ok {
		return 0, fmt.Errorf("column %s: want number, got %T", col, rec[col])
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return row.Int(v), nil
}
