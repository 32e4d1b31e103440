// Package jsonsync is the JSON-document synchronizer strategy: RFC 6902
// diffs over the tagged value representation, wrapped in the patch
// message envelope of the differential synchronization protocol.
package jsonsync

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/synclib/diffsync/internal/document"
	"github.com/synclib/diffsync/internal/jsonpatch"
	"github.com/synclib/diffsync/internal/synchronizer"
)

var (
	_ document.Edit[Edit]                                           = Edit{}
	_ synchronizer.PatchMessage[Edit]                               = PatchMessage{}
	_ synchronizer.Synchronizer[document.Value, Edit, PatchMessage] = (*Synchronizer)(nil)
)

// Edit is one synchronization step for a JSON document: an ordered list
// of RFC 6902 operations stamped with the shadow versions at diff time.
type Edit struct {
	ClientID      string
	DocumentID    string
	ClientVersion int64
	ServerVersion int64
	Checksum      string
	Diffs         []jsonpatch.Operation
}

// Key returns the (documentID, clientID) pair the edit belongs to.
func (e Edit) Key() document.Key {
	return document.Key{DocumentID: e.DocumentID, ClientID: e.ClientID}
}

// Versions returns the shadow version pair the edit was stamped with.
func (e Edit) Versions() (int64, int64) {
	return e.ClientVersion, e.ServerVersion
}

// Equal reports full equality including version stamps, checksum, and
// the diff payload.
func (e Edit) Equal(other Edit) bool {
	if e.ClientID != other.ClientID ||
		e.DocumentID != other.DocumentID ||
		e.ClientVersion != other.ClientVersion ||
		e.ServerVersion != other.ServerVersion ||
		e.Checksum != other.Checksum ||
		len(e.Diffs) != len(other.Diffs) {
		return false
	}
	for i := range e.Diffs {
		if !e.Diffs[i].Equal(other.Diffs[i]) {
			return false
		}
	}
	return true
}

// editWire is the JSON shape of an edit inside a patch message.
type editWire struct {
	ClientVersion int64                 `json:"clientVersion"`
	ServerVersion int64                 `json:"serverVersion"`
	Checksum      string                `json:"checksum"`
	Diffs         []jsonpatch.Operation `json:"diffs"`
}

// PatchMessage is the wire envelope for a batch of JSON edits.
type PatchMessage struct {
	MsgDocumentID string
	MsgClientID   string
	MsgEdits      []Edit
}

// DocumentID returns the id of the document the edits target.
func (m PatchMessage) DocumentID() string { return m.MsgDocumentID }

// ClientID returns the id of the client that produced the edits.
func (m PatchMessage) ClientID() string { return m.MsgClientID }

// Edits returns the message's edits in transmission order.
func (m PatchMessage) Edits() []Edit { return m.MsgEdits }

// Marshal serializes the message to its UTF-8 JSON wire form.
func (m PatchMessage) Marshal() (string, error) {
	edits := make([]editWire, len(m.MsgEdits))
	for i, e := range m.MsgEdits {
		diffs := e.Diffs
		if diffs == nil {
			diffs = []jsonpatch.Operation{}
		}
		edits[i] = editWire{
			ClientVersion: e.ClientVersion,
			ServerVersion: e.ServerVersion,
			Checksum:      e.Checksum,
			Diffs:         diffs,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(struct {
		MsgType  string     `json:"msgType"`
		ID       string     `json:"id"`
		ClientID string     `json:"clientId"`
		Edits    []editWire `json:"edits"`
	}{
		MsgType:  "patch",
		ID:       m.MsgDocumentID,
		ClientID: m.MsgClientID,
		Edits:    edits,
	})
	if err != nil {
		return "", fmt.Errorf("marshal patch message: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Synchronizer implements the JSON strategy.
type Synchronizer struct{}

// New creates a JSON synchronizer.
func New() *Synchronizer {
	return &Synchronizer{}
}

// ClientDiff diffs doc content toward shadow content, stamped with the
// shadow's version pair.
func (s *Synchronizer) ClientDiff(doc document.Document[document.Value], shadow document.ShadowDocument[document.Value]) (Edit, error) {
	return s.makeEdit(shadow, doc.Content, shadow.Document.Content)
}

// ServerDiff diffs shadow content toward doc content, stamped with the
// shadow's version pair.
func (s *Synchronizer) ServerDiff(doc document.Document[document.Value], shadow document.ShadowDocument[document.Value]) (Edit, error) {
	return s.makeEdit(shadow, shadow.Document.Content, doc.Content)
}

func (s *Synchronizer) makeEdit(shadow document.ShadowDocument[document.Value], from, to document.Value) (Edit, error) {
	checksum, err := document.Checksum(shadow.Document.Content)
	if err != nil {
		return Edit{}, fmt.Errorf("shadow checksum: %w", err)
	}
	return Edit{
		ClientID:      shadow.Document.ClientID,
		DocumentID:    shadow.Document.ID,
		ClientVersion: shadow.ClientVersion,
		ServerVersion: shadow.ServerVersion,
		Checksum:      checksum,
		Diffs:         jsonpatch.Diff(from, to),
	}, nil
}

// PatchShadow applies the edit's diffs to the shadow content and adopts
// the edit's client version.
func (s *Synchronizer) PatchShadow(edit Edit, shadow document.ShadowDocument[document.Value]) (document.ShadowDocument[document.Value], error) {
	patched, err := jsonpatch.Apply(edit.Diffs, shadow.Document.Content)
	if err != nil {
		return document.ShadowDocument[document.Value]{}, err
	}
	shadow.ClientVersion = edit.ClientVersion
	shadow.Document.Content = patched
	return shadow, nil
}

// PatchDocument applies the edit's diffs to the document content,
// preserving its identity.
func (s *Synchronizer) PatchDocument(edit Edit, doc document.Document[document.Value]) (document.Document[document.Value], error) {
	patched, err := jsonpatch.Apply(edit.Diffs, doc.Content)
	if err != nil {
		return document.Document[document.Value]{}, err
	}
	doc.Content = patched
	return doc, nil
}

// PatchMessageFromJSON parses a wire message. Returns false on malformed
// input so callers can drop the message.
func (s *Synchronizer) PatchMessageFromJSON(raw string) (PatchMessage, bool) {
	var wire struct {
		MsgType  string     `json:"msgType"`
		ID       string     `json:"id"`
		ClientID string     `json:"clientId"`
		Edits    []editWire `json:"edits"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return PatchMessage{}, false
	}

	edits := make([]Edit, len(wire.Edits))
	for i, e := range wire.Edits {
		edits[i] = Edit{
			ClientID:      wire.ClientID,
			DocumentID:    wire.ID,
			ClientVersion: e.ClientVersion,
			ServerVersion: e.ServerVersion,
			Checksum:      e.Checksum,
			Diffs:         e.Diffs,
		}
	}
	return PatchMessage{MsgDocumentID: wire.ID, MsgClientID: wire.ClientID, MsgEdits: edits}, true
}

// CreatePatchMessage wraps edits in a message envelope.
func (s *Synchronizer) CreatePatchMessage(documentID, clientID string, edits []Edit) PatchMessage {
	return PatchMessage{MsgDocumentID: documentID, MsgClientID: clientID, MsgEdits: edits}
}

// AddContent appends `"<field>":<content>` to buf for the initial add
// handshake.
func (s *Synchronizer) AddContent(doc document.Document[document.Value], field string, buf *bytes.Buffer) error {
	fieldName, err := json.Marshal(field)
	if err != nil {
		return err
	}
	content, err := document.MarshalValue(doc.Content)
	if err != nil {
		return fmt.Errorf("marshal content for %q: %w", doc.ID, err)
	}
	buf.Write(fieldName)
	buf.WriteByte(':')
	buf.Write(content)
	return nil
}
