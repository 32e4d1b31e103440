// Package synchronizer defines the strategy contract the sync engine is
// built against. A synchronizer turns document pairs into edits, applies
// edits to documents and shadows, and (de)serializes patch messages.
//
// The contract is generic over the document content type T, the edit
// type D, and the patch-message type P, so an engine instance can only
// combine matching flavors; mixing a JSON edit into a text engine is a
// compile error, not a runtime surprise.
package synchronizer

import (
	"bytes"

	"github.com/synclib/diffsync/internal/document"
)

// PatchMessage is the envelope carrying a batch of edits for one
// document/client pair. Concrete message types also serialize themselves
// to the wire with Marshal.
type PatchMessage[D any] interface {
	// DocumentID returns the id of the document the edits target.
	DocumentID() string

	// ClientID returns the id of the client that produced the edits.
	ClientID() string

	// Edits returns the message's edits in transmission order.
	Edits() []D

	// Marshal serializes the message to its UTF-8 JSON wire form.
	Marshal() (string, error)
}

// Synchronizer is the diff/patch strategy for one document flavor.
//
// Direction matters. ClientDiff diffs document content toward shadow
// content and is used to reconcile the local working document after an
// inbound patch has advanced the shadow. ServerDiff diffs shadow content
// toward document content and is what outbound edits are built from.
// Swapping the two silently corrupts convergence.
type Synchronizer[T any, D document.Edit[D], P PatchMessage[D]] interface {
	// ClientDiff computes the edit that rolls the document's content
	// toward the shadow's content, stamped with the shadow's versions.
	ClientDiff(doc document.Document[T], shadow document.ShadowDocument[T]) (D, error)

	// ServerDiff computes the edit that rolls the shadow's content
	// toward the document's content, stamped with the shadow's versions.
	ServerDiff(doc document.Document[T], shadow document.ShadowDocument[T]) (D, error)

	// PatchShadow applies the edit's diffs to the shadow content and
	// adopts the edit's client version; the server version is untouched.
	PatchShadow(edit D, shadow document.ShadowDocument[T]) (document.ShadowDocument[T], error)

	// PatchDocument applies the edit's diffs to the document content,
	// preserving its identity.
	PatchDocument(edit D, doc document.Document[T]) (document.Document[T], error)

	// PatchMessageFromJSON parses a wire message. The second result is
	// false on malformed input.
	PatchMessageFromJSON(raw string) (P, bool)

	// CreatePatchMessage wraps edits in a message envelope.
	CreatePatchMessage(documentID, clientID string, edits []D) P

	// AddContent appends `"<field>":<content-as-JSON>` to buf. Used to
	// build the initial add handshake without an intermediate value.
	AddContent(doc document.Document[T], field string, buf *bytes.Buffer) error
}
