// Package row defines the values and rows stored in synchronized tables.
//
// A Row is an ordered list of named scalar Values. Values form a sealed set:
// String, Int, Bool, Decimal and Time. There is deliberately no binary float
// variant; prices and volumes are Decimal so that two downloads of the same
// history compare equal byte for byte.
//
// Two encodings are provided:
//   - Canonical: sorted keys (UTF-16 code unit order), NFC strings, no HTML
//     escaping. Used only for equality checks between old and new history.
//   - JSON: column order preserved, Decimal and Time tagged with the
//     "$numberDecimal" and "$date" extended JSON wrappers so rows round-trip
//     through storage without losing their types.
package row
