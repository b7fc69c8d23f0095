package testutil

import (
	"fmt"
	"sync"
)

// SequenceFlowGenerator generates predictable flow tokens: "flow-1", "flow-2", ...
//
// Golden traces stay byte-identical between runs.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceFlowGenerator struct {
	mu  sync.Mutex
	seq int
}

// Generate returns the next token in the sequence.
func (g *SequenceFlowGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("flow-%d", g.seq)
}
