// Package checks holds the pure consistency predicates applied to a table's
// rows before they are committed.
//
// Each predicate is stateless and returns a *Error whose Code identifies the
// failure kind. The table decides which predicates apply based on its fetch
// mode and validation policy:
//
//	full reload:            UniqueIncreasing
//	incremental, last row:  UniqueIncreasing, PrefixConsistent
//	incremental, full:      UniqueIncreasing, HistoryConsistent (includes NotShorter)
package checks
