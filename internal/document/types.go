package document

// SeedVersion marks an edit that re-anchors the conversation. A peer that
// receives an edit with ClientVersion == SeedVersion adopts the patched
// state and resets its client version to 0.
const SeedVersion int64 = -1

// Key identifies the per-client view of a document. Every document, shadow,
// backup, and pending-edit queue is stored under exactly one Key.
type Key struct {
	DocumentID string
	ClientID   string
}

// Document is the working copy the application sees. T is the content
// representation of the synchronizer flavor in use: Value for JSON
// documents, string for plain text.
type Document[T any] struct {
	ID       string
	ClientID string
	Content  T
}

// Key returns the storage key for this document.
func (d Document[T]) Key() Key {
	return Key{DocumentID: d.ID, ClientID: d.ClientID}
}

// ShadowDocument is the last state agreed between this client and its peer,
// plus the two version counters the protocol gates on.
//
// ClientVersion counts local diffs taken against this shadow.
// ServerVersion counts peer edits applied to this shadow.
// Both are monotonically non-decreasing except on the seed path, which
// resets ClientVersion to 0.
type ShadowDocument[T any] struct {
	ClientVersion int64
	ServerVersion int64
	Document      Document[T]
}

// Key returns the storage key for this shadow.
func (s ShadowDocument[T]) Key() Key {
	return s.Document.Key()
}

// BackupShadow is a snapshot of the shadow taken at the last known-good
// synchronization point. Version mirrors the shadow's ClientVersion at
// snapshot time and is what an inbound divergent edit is matched against
// when the live shadow no longer lines up.
type BackupShadow[T any] struct {
	Version int64
	Shadow  ShadowDocument[T]
}

// Key returns the storage key for this backup.
func (b BackupShadow[T]) Key() Key {
	return b.Shadow.Key()
}

// Edit is the constraint every synchronizer edit type satisfies. The type
// parameter is the concrete edit type itself, so equality stays fully
// typed: a JSON edit can only be compared against another JSON edit.
//
// An edit records the shadow version pair it was produced at; it may be
// retransmitted any number of times until the peer acknowledges it by
// advancing its server version past it.
type Edit[D any] interface {
	// Key returns the (documentID, clientID) pair the edit belongs to.
	Key() Key

	// Versions returns the shadow (clientVersion, serverVersion) pair the
	// edit was stamped with at diff time.
	Versions() (clientVersion, serverVersion int64)

	// Equal reports whether the edit is identical to other, including
	// version stamps, checksum, and the full diff payload.
	Equal(other D) bool
}
