package event

import (
	"context"

	"github.com/google/uuid"
)

// FlowTokenGenerator generates the token shared by every delivery of one
// top-level Publish. Implemented by UUIDv7Generator in production.
type FlowTokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 flow tokens, so log lines of
// one cascade sort by when the cascade started.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

type flowKey struct{}

// WithFlow attaches a flow token to ctx.
func WithFlow(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, flowKey{}, token)
}

// FlowFrom returns the flow token attached to ctx, or "".
func FlowFrom(ctx context.Context) string {
	token, _ := ctx.Value(flowKey{}).(string)
	return token
}
