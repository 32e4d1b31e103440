package engine

import (
	"sync"

	"github.com/google/uuid"
)

// ClientIDGenerator produces client ids for new sync participants.
// Implemented by UUIDv7Generator (production) and FixedGenerator
// (tests).
type ClientIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 client ids. The
// embedded timestamp makes ids sortable by creation time, which helps
// when reading traces.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined client ids for testing, enabling
// deterministic golden traces.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator over a known id sequence. Once
// the sequence is exhausted, the last id repeats.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	if len(ids) == 0 {
		ids = []string{"test-client"}
	}
	return &FixedGenerator{ids: ids}
}

// Generate returns the next id in the sequence.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ids[g.idx]
	if g.idx < len(g.ids)-1 {
		g.idx++
	}
	return id
}
