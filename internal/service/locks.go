package service

import (
	"context"
	"sync"

	"github.com/roach88/tablesync/internal/table"
)

// keyedMutex serializes work per table identity. Locks are never removed:
// tables live for the whole process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[table.ID]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[table.ID]chan struct{})}
}

// lock blocks until id is free or ctx is done. The returned func releases it.
func (k *keyedMutex) lock(ctx context.Context, id table.ID) (func(), error) {
	k.mu.Lock()
	ch, ok := k.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[id] = ch
	}
	k.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
