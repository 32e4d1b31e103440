// Package engine drives the client side of the differential
// synchronization protocol: registering documents, producing outbound
// patch messages, and applying inbound ones through the version-gated
// state machine with backup restoration and seed handling.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/synclib/diffsync/internal/document"
	"github.com/synclib/diffsync/internal/store"
	"github.com/synclib/diffsync/internal/synchronizer"
)

// Callback is invoked whenever an inbound patch produces a new working
// document for a registered id. It runs synchronously on the caller's
// goroutine before Patch returns and must not re-enter the engine for
// the same document.
type Callback[T any] func(doc document.Document[T])

// Engine is the client sync engine for one synchronizer flavor. The
// type parameters tie the document content, edit, and patch-message
// types together: an engine wired with the JSON synchronizer only
// accepts JSON edits and messages.
//
// The engine is not internally synchronized. All operations for a given
// (documentID, clientID) pair must be serialized by the caller; the
// transport is expected to deliver Patch calls sequentially.
type Engine[T any, D document.Edit[D], P synchronizer.PatchMessage[D]] struct {
	sync      synchronizer.Synchronizer[T, D, P]
	store     store.DataStore[T, D]
	callbacks map[string]Callback[T]
	validate  func(document.Document[T]) error
}

// Option configures an Engine.
type Option[T any, D document.Edit[D], P synchronizer.PatchMessage[D]] func(*Engine[T, D, P])

// WithValidator installs a hook run against the reconciled working
// document before it is stored after an inbound patch. A non-nil error
// keeps the previous working document and surfaces as SCHEMA_VIOLATION;
// shadow bookkeeping for the patch has already happened at that point.
func WithValidator[T any, D document.Edit[D], P synchronizer.PatchMessage[D]](validate func(document.Document[T]) error) Option[T, D, P] {
	return func(e *Engine[T, D, P]) {
		e.validate = validate
	}
}

// New creates an engine over the given synchronizer strategy and store.
func New[T any, D document.Edit[D], P synchronizer.PatchMessage[D]](
	sync synchronizer.Synchronizer[T, D, P],
	dataStore store.DataStore[T, D],
	opts ...Option[T, D, P],
) *Engine[T, D, P] {
	e := &Engine[T, D, P]{
		sync:      sync,
		store:     dataStore,
		callbacks: make(map[string]Callback[T]),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add stores the working document, creates the shadow at versions (0,0)
// with the same content, snapshots the initial backup at version 0, and
// registers the callback under the document id.
func (e *Engine[T, D, P]) Add(ctx context.Context, doc document.Document[T], callback Callback[T]) error {
	if err := e.store.SaveClientDocument(ctx, doc); err != nil {
		return storeError("save document", err)
	}

	shadow := document.ShadowDocument[T]{ClientVersion: 0, ServerVersion: 0, Document: doc}
	if err := e.store.SaveShadow(ctx, shadow); err != nil {
		return storeError("save shadow", err)
	}

	backup := document.BackupShadow[T]{Version: 0, Shadow: shadow}
	if err := e.store.SaveBackup(ctx, backup); err != nil {
		return storeError("save backup", err)
	}

	e.callbacks[doc.ID] = callback

	slog.Debug("document registered",
		"document_id", doc.ID,
		"client_id", doc.ClientID,
	)
	return nil
}

// Diff computes an edit from the working document against its shadow,
// queues it, advances the shadow, and returns a patch message carrying
// the entire pending queue - the retransmission discipline for lossy
// channels. The second result is false when the document was never
// registered via Add.
func (e *Engine[T, D, P]) Diff(ctx context.Context, doc document.Document[T]) (P, bool, error) {
	var zero P

	shadow, found, err := e.store.GetShadow(ctx, doc.Key())
	if err != nil {
		return zero, false, storeError("get shadow", err)
	}
	if !found {
		slog.Warn("diff for unknown document",
			"document_id", doc.ID,
			"client_id", doc.ClientID,
		)
		return zero, false, nil
	}

	edit, err := e.sync.ServerDiff(doc, shadow)
	if err != nil {
		return zero, false, fmt.Errorf("server diff: %w", err)
	}

	if err := e.store.SaveEdit(ctx, edit); err != nil {
		return zero, false, storeError("save edit", err)
	}

	patched, err := e.sync.PatchShadow(edit, shadow)
	if err != nil {
		return zero, false, patchError(err)
	}
	patched.ClientVersion++
	if err := e.store.SaveShadow(ctx, patched); err != nil {
		return zero, false, storeError("save shadow", err)
	}

	edits, err := e.store.GetEdits(ctx, doc.Key())
	if err != nil {
		return zero, false, storeError("get edits", err)
	}

	return e.sync.CreatePatchMessage(doc.ID, doc.ClientID, edits), true, nil
}

// Patch applies an inbound patch message. Each edit is dispatched on
// its version pair against the current shadow: already-applied edits
// are discarded, divergent edits go through backup restoration, exact
// matches apply, and seed edits re-anchor the shadow at client version
// zero. One skipped edit does not stop later edits in the same message.
//
// When at least one edit advanced the shadow, the working document is
// reconciled against it, a fresh backup is snapshotted, and the
// registered callback is invoked once with the new document.
func (e *Engine[T, D, P]) Patch(ctx context.Context, message P) error {
	key := document.Key{DocumentID: message.DocumentID(), ClientID: message.ClientID()}

	shadow, found, err := e.store.GetShadow(ctx, key)
	if err != nil {
		return storeError("get shadow", err)
	}
	if !found {
		slog.Warn("patch for unknown document",
			"document_id", key.DocumentID,
			"client_id", key.ClientID,
		)
		return nil
	}

	updated := false
	for _, edit := range message.Edits() {
		clientVersion, serverVersion := edit.Versions()

		switch {
		case serverVersion < shadow.ServerVersion:
			// Already applied on a previous delivery; drop the replay.
			slog.Debug("discarding stale edit",
				"document_id", key.DocumentID,
				"edit_server_version", serverVersion,
				"shadow_server_version", shadow.ServerVersion,
			)
			if err := e.store.RemoveEdit(ctx, edit); err != nil {
				return storeError("remove edit", err)
			}

		case clientVersion < shadow.ClientVersion && clientVersion != document.SeedVersion:
			restored, ok, err := e.restoreFromBackup(ctx, key, edit, shadow)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			shadow = restored
			updated = true

		case clientVersion == shadow.ClientVersion && serverVersion == shadow.ServerVersion:
			patched, err := e.sync.PatchShadow(edit, shadow)
			if err != nil {
				return patchError(err)
			}
			if err := e.store.RemoveEdit(ctx, edit); err != nil {
				return storeError("remove edit", err)
			}
			patched.ServerVersion++
			if err := e.store.SaveShadow(ctx, patched); err != nil {
				return storeError("save shadow", err)
			}
			shadow = patched
			updated = true

		case clientVersion == document.SeedVersion:
			patched, err := e.sync.PatchShadow(edit, shadow)
			if err != nil {
				return patchError(err)
			}
			if err := e.store.RemoveEdit(ctx, edit); err != nil {
				return storeError("remove edit", err)
			}
			patched.ClientVersion = 0
			if err := e.store.SaveShadow(ctx, patched); err != nil {
				return storeError("save shadow", err)
			}
			slog.Info("seed edit re-anchored shadow",
				"document_id", key.DocumentID,
				"client_id", key.ClientID,
				"server_version", patched.ServerVersion,
			)
			shadow = patched
			updated = true

		default:
			slog.Warn("skipping edit with mismatched versions",
				"document_id", key.DocumentID,
				"edit_client_version", clientVersion,
				"edit_server_version", serverVersion,
				"shadow_client_version", shadow.ClientVersion,
				"shadow_server_version", shadow.ServerVersion,
			)
		}
	}

	if !updated {
		return nil
	}

	return e.reconcile(ctx, key, shadow)
}

// restoreFromBackup handles a divergent edit: if the backup matches the
// edit's client version, the shadow is rebuilt from the backup content,
// the pending queue is wiped, and processing continues. A mismatched
// backup skips the edit.
func (e *Engine[T, D, P]) restoreFromBackup(ctx context.Context, key document.Key, edit D, shadow document.ShadowDocument[T]) (document.ShadowDocument[T], bool, error) {
	clientVersion, _ := edit.Versions()

	backup, found, err := e.store.GetBackup(ctx, key)
	if err != nil {
		return shadow, false, storeError("get backup", err)
	}
	if !found || backup.Version != clientVersion {
		backupVersion := int64(-1)
		if found {
			backupVersion = backup.Version
		}
		slog.Warn("divergent edit with no matching backup",
			"document_id", key.DocumentID,
			"edit_client_version", clientVersion,
			"backup_version", backupVersion,
		)
		return shadow, false, nil
	}

	// Rebuild the shadow from the backup content, keeping the live
	// version counters, and apply the divergent edit against it.
	base := shadow
	base.Document.Content = backup.Shadow.Document.Content

	restored, err := e.sync.PatchShadow(edit, base)
	if err != nil {
		return shadow, false, patchError(err)
	}

	if err := e.store.RemoveEdits(ctx, key); err != nil {
		return shadow, false, storeError("remove edits", err)
	}
	if err := e.store.SaveShadow(ctx, restored); err != nil {
		return shadow, false, storeError("save shadow", err)
	}

	slog.Info("shadow restored from backup",
		"document_id", key.DocumentID,
		"client_id", key.ClientID,
		"backup_version", backup.Version,
	)
	return restored, true, nil
}

// reconcile rolls the working document forward to the updated shadow,
// snapshots a fresh backup, and fires the registered callback.
func (e *Engine[T, D, P]) reconcile(ctx context.Context, key document.Key, shadow document.ShadowDocument[T]) error {
	doc, found, err := e.store.GetClientDocument(ctx, key)
	if err != nil {
		return storeError("get document", err)
	}
	if !found {
		return &SyncError{
			Code:       ErrCodeMissingDocument,
			Message:    "no working document for patched shadow",
			DocumentID: key.DocumentID,
			ClientID:   key.ClientID,
		}
	}

	edit, err := e.sync.ClientDiff(doc, shadow)
	if err != nil {
		return fmt.Errorf("client diff: %w", err)
	}
	patched, err := e.sync.PatchDocument(edit, doc)
	if err != nil {
		return patchError(err)
	}

	if e.validate != nil {
		if err := e.validate(patched); err != nil {
			return &SyncError{
				Code:       ErrCodeSchemaViolation,
				Message:    err.Error(),
				DocumentID: key.DocumentID,
				ClientID:   key.ClientID,
			}
		}
	}

	if err := e.store.SaveClientDocument(ctx, patched); err != nil {
		return storeError("save document", err)
	}

	backup := document.BackupShadow[T]{Version: shadow.ClientVersion, Shadow: shadow}
	if err := e.store.SaveBackup(ctx, backup); err != nil {
		return storeError("save backup", err)
	}

	callback, ok := e.callbacks[key.DocumentID]
	if !ok {
		return &SyncError{
			Code:       ErrCodeMissingCallback,
			Message:    "document was patched but has no registered callback",
			DocumentID: key.DocumentID,
			ClientID:   key.ClientID,
		}
	}
	callback(patched)

	return nil
}

// PatchFromJSON parses a wire message and applies it. Malformed input
// surfaces as MALFORMED_MESSAGE so callers can drop it.
func (e *Engine[T, D, P]) PatchFromJSON(ctx context.Context, raw string) error {
	message, ok := e.sync.PatchMessageFromJSON(raw)
	if !ok {
		return &SyncError{Code: ErrCodeMalformedMessage, Message: "patch message did not parse"}
	}
	return e.Patch(ctx, message)
}

// DocumentToJSON produces the initial add handshake for a document:
// {"msgType":"add","id":...,"clientId":...,"content":...}.
func (e *Engine[T, D, P]) DocumentToJSON(doc document.Document[T]) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"msgType":"add","id":`)

	id, err := json.Marshal(doc.ID)
	if err != nil {
		return "", err
	}
	buf.Write(id)

	buf.WriteString(`,"clientId":`)
	clientID, err := json.Marshal(doc.ClientID)
	if err != nil {
		return "", err
	}
	buf.Write(clientID)

	buf.WriteByte(',')
	if err := e.sync.AddContent(doc, "content", &buf); err != nil {
		return "", fmt.Errorf("add message for %q: %w", doc.ID, err)
	}

	buf.WriteByte('}')
	return buf.String(), nil
}
