package store

import (
	"context"
	"sync"

	"github.com/synclib/diffsync/internal/document"
)

// Memory is the in-memory DataStore. It never returns errors and is
// safe for concurrent use; a single mutex guards all maps, which is
// plenty for the per-document serialization the engine requires anyway.
type Memory[T any, D document.Edit[D]] struct {
	mu        sync.Mutex
	documents map[document.Key]document.Document[T]
	shadows   map[document.Key]document.ShadowDocument[T]
	backups   map[document.Key]document.BackupShadow[T]
	edits     map[document.Key][]D
}

// NewMemory creates an empty in-memory store.
func NewMemory[T any, D document.Edit[D]]() *Memory[T, D] {
	return &Memory[T, D]{
		documents: make(map[document.Key]document.Document[T]),
		shadows:   make(map[document.Key]document.ShadowDocument[T]),
		backups:   make(map[document.Key]document.BackupShadow[T]),
		edits:     make(map[document.Key][]D),
	}
}

// SaveClientDocument stores or replaces the working document.
func (m *Memory[T, D]) SaveClientDocument(_ context.Context, doc document.Document[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.Key()] = doc
	return nil
}

// GetClientDocument returns the working document for the key.
func (m *Memory[T, D]) GetClientDocument(_ context.Context, key document.Key) (document.Document[T], bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[key]
	return doc, ok, nil
}

// SaveShadow stores or replaces the shadow.
func (m *Memory[T, D]) SaveShadow(_ context.Context, shadow document.ShadowDocument[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadows[shadow.Key()] = shadow
	return nil
}

// GetShadow returns the shadow for the key.
func (m *Memory[T, D]) GetShadow(_ context.Context, key document.Key) (document.ShadowDocument[T], bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shadow, ok := m.shadows[key]
	return shadow, ok, nil
}

// SaveBackup stores or replaces the backup shadow.
func (m *Memory[T, D]) SaveBackup(_ context.Context, backup document.BackupShadow[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups[backup.Key()] = backup
	return nil
}

// GetBackup returns the backup shadow for the key.
func (m *Memory[T, D]) GetBackup(_ context.Context, key document.Key) (document.BackupShadow[T], bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	backup, ok := m.backups[key]
	return backup, ok, nil
}

// SaveEdit appends the edit to the key's pending queue.
func (m *Memory[T, D]) SaveEdit(_ context.Context, edit D) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edit.Key()
	m.edits[key] = append(m.edits[key], edit)
	return nil
}

// GetEdits returns the key's pending edits in FIFO order.
func (m *Memory[T, D]) GetEdits(_ context.Context, key document.Key) ([]D, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.edits[key]
	out := make([]D, len(queue))
	copy(out, queue)
	return out, nil
}

// RemoveEdit removes the first queued edit equal to edit.
func (m *Memory[T, D]) RemoveEdit(_ context.Context, edit D) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edit.Key()
	queue := m.edits[key]
	for i, queued := range queue {
		if queued.Equal(edit) {
			m.edits[key] = append(queue[:i:i], queue[i+1:]...)
			return nil
		}
	}
	return nil
}

// RemoveEdits empties the key's pending queue.
func (m *Memory[T, D]) RemoveEdits(_ context.Context, key document.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.edits, key)
	return nil
}
