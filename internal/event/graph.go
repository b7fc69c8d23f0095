package event

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// GraphBuilder collects subscriptions before the graph is frozen.
//
// Not safe for concurrent use. Build once at startup.
type GraphBuilder struct {
	subs  map[Kind][]string
	emits map[string][]Kind
	errs  []string
}

// NewGraphBuilder creates an empty builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		subs:  make(map[Kind][]string),
		emits: make(map[string][]Kind),
	}
}

// Subscribe registers group as a subscriber of kind. Subscribers of one kind
// are dispatched in the order they were registered.
func (b *GraphBuilder) Subscribe(kind Kind, group string) *GraphBuilder {
	if slices.Contains(b.subs[kind], group) {
		b.errs = append(b.errs, fmt.Sprintf("%s already subscribed to %s", group, kind))
		return b
	}
	b.subs[kind] = append(b.subs[kind], group)
	return b
}

// Emits declares the event kinds a group may raise. Only declared kinds are
// considered by the cycle check.
func (b *GraphBuilder) Emits(group string, kinds ...Kind) *GraphBuilder {
	for _, k := range kinds {
		if !slices.Contains(b.emits[group], k) {
			b.emits[group] = append(b.emits[group], k)
		}
	}
	return b
}

// Build freezes the graph. It fails on duplicate subscriptions and on any
// group that could trigger itself.
func (b *GraphBuilder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("invalid subscriptions: %s", strings.Join(b.errs, "; "))
	}

	g := &Graph{
		subs:  make(map[Kind][]string, len(b.subs)),
		emits: make(map[string][]Kind, len(b.emits)),
	}
	for k, groups := range b.subs {
		g.subs[k] = slices.Clone(groups)
	}
	for group, kinds := range b.emits {
		g.emits[group] = slices.Clone(kinds)
	}

	if err := checkAcyclic(g.dependencies()); err != nil {
		return nil, err
	}
	return g, nil
}

// Graph is the immutable subscription map: event kind to ordered subscriber
// groups. Safe for concurrent reads.
type Graph struct {
	subs  map[Kind][]string
	emits map[string][]Kind
}

// Subscribers returns the groups subscribed to kind in dispatch order.
func (g *Graph) Subscribers(kind Kind) []string {
	return slices.Clone(g.subs[kind])
}

// Edge is one possible cascade step: From raises Kind, To handles it.
type Edge struct {
	From string
	Kind Kind
	To   string
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", e.From, e.Kind, e.To)
}

// Edges lists every cascade step, sorted by source group then declaration
// order.
func (g *Graph) Edges() []Edge {
	groups := make([]string, 0, len(g.emits))
	for group := range g.emits {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	var edges []Edge
	for _, from := range groups {
		for _, kind := range g.emits[from] {
			for _, to := range g.subs[kind] {
				edges = append(edges, Edge{From: from, Kind: kind, To: to})
			}
		}
	}
	return edges
}

// dependencies maps group -> groups its events can trigger.
func (g *Graph) dependencies() map[string][]string {
	deps := make(map[string][]string)
	for _, e := range g.Edges() {
		deps[e.From] = append(deps[e.From], e.To)
		if _, ok := deps[e.To]; !ok {
			deps[e.To] = nil
		}
	}
	return deps
}
