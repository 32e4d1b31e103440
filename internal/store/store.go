// Package store provides keyed persistence for the sync engine: working
// documents, shadows, backup shadows, and the FIFO pending-edit queue,
// all keyed by (documentID, clientID).
//
// Three implementations share the contract: Memory for tests and
// ephemeral clients, SQLite for durable server-adjacent deployments,
// and Bolt for client-side local persistence.
package store

import (
	"context"

	"github.com/synclib/diffsync/internal/document"
)

// DataStore is the persistence contract the engine drives. Get
// operations return false when no record exists for the key; absence is
// not an error. RemoveEdit of an edit not in the queue is a silent
// no-op.
//
// Compound engine operations (save shadow + save edit, remove edit +
// save shadow + save backup) assume the caller serializes access per
// key; the store itself only guarantees per-operation atomicity.
type DataStore[T any, D document.Edit[D]] interface {
	// SaveClientDocument stores or replaces the working document.
	SaveClientDocument(ctx context.Context, doc document.Document[T]) error

	// GetClientDocument returns the working document for the key.
	GetClientDocument(ctx context.Context, key document.Key) (document.Document[T], bool, error)

	// SaveShadow stores or replaces the shadow.
	SaveShadow(ctx context.Context, shadow document.ShadowDocument[T]) error

	// GetShadow returns the shadow for the key.
	GetShadow(ctx context.Context, key document.Key) (document.ShadowDocument[T], bool, error)

	// SaveBackup stores or replaces the backup shadow.
	SaveBackup(ctx context.Context, backup document.BackupShadow[T]) error

	// GetBackup returns the backup shadow for the key.
	GetBackup(ctx context.Context, key document.Key) (document.BackupShadow[T], bool, error)

	// SaveEdit appends the edit to the key's pending queue.
	SaveEdit(ctx context.Context, edit D) error

	// GetEdits returns the key's pending edits in FIFO order.
	GetEdits(ctx context.Context, key document.Key) ([]D, error)

	// RemoveEdit removes the first queued edit equal to edit. Silent if
	// no queued edit matches.
	RemoveEdit(ctx context.Context, edit D) error

	// RemoveEdits empties the key's pending queue.
	RemoveEdits(ctx context.Context, key document.Key) error
}

// ContentCodec serializes document content for the durable stores. The
// codec keeps the content type parameter static: a store instance for
// JSON documents cannot be handed text content.
type ContentCodec[T any] interface {
	MarshalContent(content T) ([]byte, error)
	UnmarshalContent(data []byte) (T, error)
}

// JSONContent is the codec for JSON document content.
type JSONContent struct{}

// MarshalContent serializes a JSON value.
func (JSONContent) MarshalContent(content document.Value) ([]byte, error) {
	return document.MarshalValue(content)
}

// UnmarshalContent deserializes a JSON value.
func (JSONContent) UnmarshalContent(data []byte) (document.Value, error) {
	return document.UnmarshalValue(data)
}

// TextContent is the codec for plain-text document content.
type TextContent struct{}

// MarshalContent returns the text bytes unchanged.
func (TextContent) MarshalContent(content string) ([]byte, error) {
	return []byte(content), nil
}

// UnmarshalContent returns the stored bytes as a string.
func (TextContent) UnmarshalContent(data []byte) (string, error) {
	return string(data), nil
}
