// Package table holds the versioned table entity and the merge protocol that
// keeps its history append-only.
//
// A Table never mutates while it fetches or validates. Prepare downloads and
// checks candidate rows against the committed state and returns a Pending
// update; Commit installs it atomically, provided nothing was committed in
// between. Per-group behavior (where rows come from, which index orders them,
// which events follow an update) is supplied by a Kind registered in a
// Registry.
package table
