package table

import (
	"fmt"
	"sort"

	"github.com/roach88/tablesync/internal/event"
)

// Registry is the static set of table kinds keyed by group. Built once at
// startup; read-only afterwards.
type Registry struct {
	kinds map[string]Kind
	order []string
}

// NewRegistry registers kinds in order. Registration order is the dispatch
// order of subscribers to the same event.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{kinds: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		group := k.Group()
		if group == "" {
			return nil, fmt.Errorf("kind %T has empty group", k)
		}
		if _, dup := r.kinds[group]; dup {
			return nil, fmt.Errorf("group %q registered twice", group)
		}
		if k.Policy().Index == "" {
			return nil, fmt.Errorf("group %q has no index column", group)
		}
		r.kinds[group] = k
		r.order = append(r.order, group)
	}
	return r, nil
}

// Kind returns the kind registered for group.
func (r *Registry) Kind(group string) (Kind, error) {
	k, ok := r.kinds[group]
	if !ok {
		return nil, &Error{Code: CodeUnknownGroup, ID: ID{Group: group}, Message: "no such table group"}
	}
	return k, nil
}

// Groups returns the registered groups sorted by name.
func (r *Registry) Groups() []string {
	groups := append([]string(nil), r.order...)
	sort.Strings(groups)
	return groups
}

// NewTable creates an empty table for id. It rejects unknown groups and
// singleton tables addressed by a name other than the group.
func (r *Registry) NewTable(id ID) (*Table, error) {
	kind, err := r.Kind(id.Group)
	if err != nil {
		return nil, err
	}
	if id.Name == "" {
		return nil, &Error{Code: CodeInvalidName, ID: id, Message: "empty table name"}
	}
	if kind.Policy().Singleton && id.Name != id.Group {
		return nil, &Error{
			Code:    CodeInvalidName,
			ID:      id,
			Message: fmt.Sprintf("singleton group has only table %q", id.Group),
		}
	}
	return newTable(id, kind), nil
}

// Graph builds the event subscription graph from the registered policies.
func (r *Registry) Graph() (*event.Graph, error) {
	b := event.NewGraphBuilder()
	for _, group := range r.order {
		policy := r.kinds[group].Policy()
		b.Emits(group, policy.Emits...)
		for _, kind := range policy.Subscribes {
			b.Subscribe(kind, group)
		}
	}
	return b.Build()
}
