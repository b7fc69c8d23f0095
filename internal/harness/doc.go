// Package harness runs table synchronization scenarios.
//
// A scenario is a YAML file describing upstream data, a sequence of steps
// (updates, clock moves, upstream changes and failures) and assertions on
// the resulting trace and stored tables. Scenarios run against the real
// service, router and SQLite store, with a fake clock and in-memory upstream
// sources, so the same file always produces the same trace.
//
// Trace format, one line per entry:
//
//	[1] update trading_dates
//	[1]   trading_day_ended date=2021-03-04 -> securities
//	[1]     ticker_traded date=2021-03-04 isin=RU0009028674 ticker=AKRN -> quotes
//	[2] error HISTORY_MISMATCH
//
// The bracketed number is the step. Deliveries are indented by cascade depth.
//
// Golden traces live in testdata/golden; regenerate them with
//
//	go test ./internal/harness -update
package harness
