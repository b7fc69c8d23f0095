// Package store provides SQLite-backed durable storage for table snapshots.
//
// Each table is one row in tables (identity and last refresh) plus its data
// rows in table_rows, ordered by pos. A save is one transaction: the
// timestamp and the rows change together or not at all.
//
// Rows are stored as typed JSON (see row.Row.MarshalJSON) so decimals and
// dates reload exactly.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: table_rows reference their table
package store
