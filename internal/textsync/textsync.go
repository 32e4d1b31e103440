// Package textsync is the plain-text synchronizer strategy. It is
// structurally identical to the JSON strategy; only the diff/patch
// primitive differs, using Google diff-match-patch, and document content
// is a string serialized as a JSON string on the wire.
package textsync

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/synclib/diffsync/internal/document"
	"github.com/synclib/diffsync/internal/synchronizer"
)

// Text diff operations as they appear on the wire.
const (
	OpAdd       = "ADD"
	OpDelete    = "DELETE"
	OpUnchanged = "UNCHANGED"
)

// Diff is one diff-match-patch segment.
type Diff struct {
	Operation string `json:"operation"`
	Text      string `json:"text"`
}

// Edit is one synchronization step for a text document.
type Edit struct {
	ClientID      string
	DocumentID    string
	ClientVersion int64
	ServerVersion int64
	Checksum      string
	Diffs         []Diff
}

var (
	_ document.Edit[Edit]                                   = Edit{}
	_ synchronizer.PatchMessage[Edit]                       = PatchMessage{}
	_ synchronizer.Synchronizer[string, Edit, PatchMessage] = (*Synchronizer)(nil)
)

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
		if e.Diffs[i] != other.Diffs[i] {
			return false
		}
	}
	return true
}

type editWire struct {
	ClientVersion int64  `json:"clientVersion"`
	ServerVersion int64  `json:"serverVersion"`
	Checksum      string `json:"checksum"`
	Diffs         []Diff `json:"diffs"`
}

// PatchMessage is the wire envelope for a batch of text edits.
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
			diffs = []Diff{}
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

// Synchronizer implements the text strategy.
type Synchronizer struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// New creates a text synchronizer.
func New() *Synchronizer {
	return &Synchronizer{dmp: diffmatchpatch.New()}
}

// ClientDiff diffs doc content toward shadow content, stamped with the
// shadow's version pair.
func (s *Synchronizer) ClientDiff(doc document.Document[string], shadow document.ShadowDocument[string]) (Edit, error) {
	return s.makeEdit(shadow, doc.Content, shadow.Document.Content), nil
}

// ServerDiff diffs shadow content toward doc content, stamped with the
// shadow's version pair.
func (s *Synchronizer) ServerDiff(doc document.Document[string], shadow document.ShadowDocument[string]) (Edit, error) {
	return s.makeEdit(shadow, shadow.Document.Content, doc.Content), nil
}

func (s *Synchronizer) makeEdit(shadow document.ShadowDocument[string], from, to string) Edit {
	diffs := s.dmp.DiffMain(from, to, false)
	converted := make([]Diff, len(diffs))
	for i, d := range diffs {
		converted[i] = Diff{Operation: operationName(d.Type), Text: d.Text}
	}
	return Edit{
		ClientID:      shadow.Document.ClientID,
		DocumentID:    shadow.Document.ID,
		ClientVersion: shadow.ClientVersion,
		ServerVersion: shadow.ServerVersion,
		Checksum:      document.ChecksumText(shadow.Document.Content),
		Diffs:         converted,
	}
}

// PatchShadow applies the edit's diffs to the shadow content and adopts
// the edit's client version.
func (s *Synchronizer) PatchShadow(edit Edit, shadow document.ShadowDocument[string]) (document.ShadowDocument[string], error) {
	patched, err := s.applyDiffs(edit, shadow.Document.Content)
	if err != nil {
		return document.ShadowDocument[string]{}, err
	}
	shadow.ClientVersion = edit.ClientVersion
	shadow.Document.Content = patched
	return shadow, nil
}

// PatchDocument applies the edit's diffs to the document content,
// preserving its identity.
func (s *Synchronizer) PatchDocument(edit Edit, doc document.Document[string]) (document.Document[string], error) {
	patched, err := s.applyDiffs(edit, doc.Content)
	if err != nil {
		return document.Document[string]{}, err
	}
	doc.Content = patched
	return doc, nil
}

// applyDiffs converts wire diffs back to diff-match-patch form, builds
// patches, and applies them to text.
func (s *Synchronizer) applyDiffs(edit Edit, text string) (string, error) {
	diffs := make([]diffmatchpatch.Diff, len(edit.Diffs))
	for i, d := range edit.Diffs {
		op, err := operationType(d.Operation)
		if err != nil {
			return "", err
		}
		diffs[i] = diffmatchpatch.Diff{Type: op, Text: d.Text}
	}

	patches := s.dmp.PatchMake(diffs)
	patched, applied := s.dmp.PatchApply(patches, text)
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("text patch %d did not apply to document %q", i, edit.DocumentID)
		}
	}
	return patched, nil
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

// AddContent appends `"<field>":<content>` to buf. Text content is a
// JSON string on the wire.
func (s *Synchronizer) AddContent(doc document.Document[string], field string, buf *bytes.Buffer) error {
	fieldName, err := json.Marshal(field)
	if err != nil {
		return err
	}
	content, err := json.Marshal(doc.Content)
	if err != nil {
		return fmt.Errorf("marshal content for %q: %w", doc.ID, err)
	}
	buf.Write(fieldName)
	buf.WriteByte(':')
	buf.Write(content)
	return nil
}

func operationName(t diffmatchpatch.Operation) string {
	switch t {
	case diffmatchpatch.DiffInsert:
		return OpAdd
	case diffmatchpatch.DiffDelete:
		return OpDelete
	default:
		return OpUnchanged
	}
}

func operationType(name string) (diffmatchpatch.Operation, error) {
	switch name {
	case OpAdd:
		return diffmatchpatch.DiffInsert, nil
	case OpDelete:
		return diffmatchpatch.DiffDelete, nil
	case OpUnchanged:
		return diffmatchpatch.DiffEqual, nil
	default:
		return 0, fmt.Errorf("unknown text diff operation %q", name)
	}
}
