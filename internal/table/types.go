package table

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/tablesync/internal/event"
	"github.com/roach88/tablesync/internal/row"
)

// ID identifies a table. Singleton groups use Name == Group.
type ID struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

// Singleton returns the identity of the only table in group.
func Singleton(group string) ID {
	return ID{Group: group, Name: group}
}

func (id ID) String() string {
	if id.Name == id.Group {
		return id.Group
	}
	return id.Group + "/" + id.Name
}

// ParseID is the inverse of String: "group/name", or a bare group for its
// singleton table.
func ParseID(s string) ID {
	group, name, ok := strings.Cut(s, "/")
	if !ok {
		return Singleton(s)
	}
	return ID{Group: group, Name: name}
}

// ValidateMode selects how much stored history an incremental update checks.
type ValidateMode int

const (
	// ValidateLast fetches from the last stored index and checks the overlap.
	ValidateLast ValidateMode = iota

	// ValidateAll fetches the whole history and checks it reproduces every
	// stored row and is not shorter.
	ValidateAll
)

func (m ValidateMode) String() string {
	switch m {
	case ValidateLast:
		return "last"
	case ValidateAll:
		return "all"
	default:
		return fmt.Sprintf("ValidateMode(%d)", int(m))
	}
}

// ParseValidateMode parses "last" or "all".
func ParseValidateMode(s string) (ValidateMode, error) {
	switch s {
	case "last":
		return ValidateLast, nil
	case "all":
		return ValidateAll, nil
	default:
		return 0, fmt.Errorf("unknown validate mode %q (want last or all)", s)
	}
}

// Policy is the static behavior of a table group.
type Policy struct {
	// Index is the column whose values are unique and strictly increasing.
	Index string

	// Singleton groups hold exactly one table named after the group.
	Singleton bool

	// FromScratch reloads the full history on every update.
	FromScratch bool

	// Validate applies to incremental updates.
	Validate ValidateMode

	// Helper names the table whose last refresh is the freshness threshold.
	// Zero means none.
	Helper ID

	// Emits and Subscribes declare the event graph edges of the group.
	Emits      []event.Kind
	Subscribes []event.Kind
}

// HelperID returns the helper table identity, if any.
func (p Policy) HelperID() (ID, bool) {
	return p.Helper, p.Helper != ID{}
}

// Source is the upstream fetch collaborator. since is the last stored index
// value for an incremental fetch, or nil for the full history.
type Source interface {
	Fetch(ctx context.Context, name string, since row.Value) ([]row.Row, error)
}

// EventInput is what a kind sees when deriving events after a commit.
type EventInput struct {
	ID        ID
	Prev      []row.Row // rows before the update; nil if never updated
	Rows      []row.Row // committed rows
	Timestamp time.Time
	Trigger   event.Event // delivery that caused the update; nil for direct updates
	// TradingDay is the last completed session, for kinds that stamp events
	// with a date when no trigger carries one.
	TradingDay time.Time
}

// Route tells the service which table of a subscribing group handles an
// event and whether the freshness check is bypassed.
type Route struct {
	Name  string
	Force bool
}

// Kind is the capability set of one table group. Implementations form a
// closed set registered at startup.
type Kind interface {
	Group() string
	Policy() Policy
	Source
	// Events derives the events raised by a committed update.
	Events(in EventInput) ([]event.Event, error)
	// Route maps a subscribed event to the handling table. ok is false when
	// the event does not concern this group.
	Route(ev event.Event) (r Route, ok bool)
}

// Snapshot is a table's committed state as persisted.
// Rows is nil and Timestamp zero for a table that was never updated.
type Snapshot struct {
	ID        ID        `json:"id"`
	Rows      []row.Row `json:"rows"`
	Timestamp time.Time `json:"timestamp"`
}

// Updated reports whether the snapshot holds a successful update.
func (s Snapshot) Updated() bool {
	return !s.Timestamp.IsZero()
}

// Mode says how a Change applies to stored rows.
type Mode int

const (
	// ModeReplace overwrites all stored rows.
	ModeReplace Mode = iota
	// ModeAppend adds rows after the stored ones.
	ModeAppend
)

func (m Mode) String() string {
	if m == ModeAppend {
		return "append"
	}
	return "replace"
}

// Change is the persisted effect of one update.
type Change struct {
	ID        ID
	Mode      Mode
	Rows      []row.Row // all rows for ModeReplace, only the new suffix for ModeAppend
	Timestamp time.Time
}
