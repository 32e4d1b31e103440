package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synclib/diffsync/internal/document"
	"github.com/synclib/diffsync/internal/jsonpatch"
	"github.com/synclib/diffsync/internal/jsonsync"
	"github.com/synclib/diffsync/internal/store"
)

type jsonEngine = Engine[document.Value, jsonsync.Edit, jsonsync.PatchMessage]

type fixture struct {
	engine *jsonEngine
	store  *store.Memory[document.Value, jsonsync.Edit]
	calls  []document.Document[document.Value]
}

func newFixture(t *testing.T, opts ...Option[document.Value, jsonsync.Edit, jsonsync.PatchMessage]) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory[document.Value, jsonsync.Edit]()}
	f.engine = New[document.Value, jsonsync.Edit, jsonsync.PatchMessage](jsonsync.New(), f.store, opts...)
	return f
}

func (f *fixture) callback(doc document.Document[document.Value]) {
	f.calls = append(f.calls, doc)
}

func parse(t *testing.T, raw string) document.Value {
	t.Helper()
	v, err := document.UnmarshalValue([]byte(raw))
	require.NoError(t, err)
	return v
}

func jsonDoc(id, clientID, content string, t *testing.T) document.Document[document.Value] {
	return document.Document[document.Value]{ID: id, ClientID: clientID, Content: parse(t, content)}
}

// serverEdit builds an inbound edit the way a peer would stamp it.
func serverEdit(clientVersion, serverVersion int64, diffs ...jsonpatch.Operation) jsonsync.Edit {
	return jsonsync.Edit{
		ClientID:      "client1",
		DocumentID:    "doc1",
		ClientVersion: clientVersion,
		ServerVersion: serverVersion,
		Checksum:      "",
		Diffs:         diffs,
	}
}

func patchMsg(edits ...jsonsync.Edit) jsonsync.PatchMessage {
	return jsonsync.PatchMessage{MsgDocumentID: "doc1", MsgClientID: "client1", MsgEdits: edits}
}

func TestAddCreatesShadowAndBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"name":"fletch"}`, t)

	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	key := doc.Key()
	stored, found, err := f.store.GetClientDocument(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, document.Equal(doc.Content, stored.Content))

	shadow, found, err := f.store.GetShadow(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(0), shadow.ClientVersion)
	assert.Equal(t, int64(0), shadow.ServerVersion)
	assert.True(t, document.Equal(doc.Content, shadow.Document.Content))

	backup, found, err := f.store.GetBackup(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(0), backup.Version)
	assert.True(t, document.Equal(doc.Content, backup.Shadow.Document.Content))
}

func TestDiffUnknownDocument(t *testing.T) {
	f := newFixture(t)

	_, found, err := f.engine.Diff(context.Background(), jsonDoc("ghost", "client1", `{}`, t))

	require.NoError(t, err)
	assert.False(t, found)
}

func TestDiffAdvancesShadowAndQueuesEdit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"name":"fletch"}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	doc.Content = parse(t, `{"name":"Fletch"}`)
	msg, found, err := f.engine.Diff(ctx, doc)

	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, msg.Edits(), 1)

	edit := msg.Edits()[0]
	clientVersion, serverVersion := edit.Versions()
	assert.Equal(t, int64(0), clientVersion)
	assert.Equal(t, int64(0), serverVersion)
	assert.NotEmpty(t, edit.Checksum)

	// Shadow adopted the new content at client version 1
	shadow, _, err := f.store.GetShadow(ctx, doc.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), shadow.ClientVersion)
	assert.Equal(t, int64(0), shadow.ServerVersion)
	assert.True(t, document.Equal(doc.Content, shadow.Document.Content))
}

func TestDiffSendsEntireQueue(t *testing.T) {
	// Queue retransmission: every Diff carries all unacknowledged edits.
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"v":0}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	doc.Content = parse(t, `{"v":1}`)
	first, _, err := f.engine.Diff(ctx, doc)
	require.NoError(t, err)
	require.Len(t, first.Edits(), 1)

	doc.Content = parse(t, `{"v":2}`)
	second, _, err := f.engine.Diff(ctx, doc)
	require.NoError(t, err)
	require.Len(t, second.Edits(), 2)

	// Version stamps follow production order
	cv0, _ := second.Edits()[0].Versions()
	cv1, _ := second.Edits()[1].Versions()
	assert.Equal(t, int64(0), cv0)
	assert.Equal(t, int64(1), cv1)
}

func TestPatchAppliesEditAndFiresCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"name":"fletch"}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	err := f.engine.Patch(ctx, patchMsg(serverEdit(0, 0,
		jsonpatch.Operation{Op: jsonpatch.OpReplace, Path: "/name", Value: document.String("Fletch")},
		jsonpatch.Operation{Op: jsonpatch.OpAdd, Path: "/firstname", Value: document.String("Robert")},
	)))
	require.NoError(t, err)

	key := doc.Key()
	want := parse(t, `{"name":"Fletch","firstname":"Robert"}`)

	shadow, _, err := f.store.GetShadow(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), shadow.ClientVersion)
	assert.Equal(t, int64(1), shadow.ServerVersion)
	assert.True(t, document.Equal(want, shadow.Document.Content))

	stored, _, err := f.store.GetClientDocument(ctx, key)
	require.NoError(t, err)
	assert.True(t, document.Equal(want, stored.Content))

	// Backup snapshots the advanced shadow
	backup, _, err := f.store.GetBackup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, shadow.ClientVersion, backup.Version)
	assert.Equal(t, shadow.ServerVersion, backup.Shadow.ServerVersion)
	assert.True(t, document.Equal(want, backup.Shadow.Document.Content))

	// Callback fired exactly once with the new document
	require.Len(t, f.calls, 1)
	assert.True(t, document.Equal(want, f.calls[0].Content))
}

func TestPatchStaleEditIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"v":0}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	// Advance server version to 1
	require.NoError(t, f.engine.Patch(ctx, patchMsg(serverEdit(0, 0,
		jsonpatch.Operation{Op: jsonpatch.OpReplace, Path: "/v", Value: document.Number(1)},
	))))
	require.Len(t, f.calls, 1)

	// Queue an edit that matches the stale replay, then replay it
	stale := serverEdit(0, 0,
		jsonpatch.Operation{Op: jsonpatch.OpReplace, Path: "/v", Value: document.Number(1)},
	)
	require.NoError(t, f.store.SaveEdit(ctx, stale))

	require.NoError(t, f.engine.Patch(ctx, patchMsg(stale)))

	// Shadow unchanged, queue drained, no second callback
	shadow, _, err := f.store.GetShadow(ctx, doc.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), shadow.ServerVersion)
	assert.True(t, document.Equal(parse(t, `{"v":1}`), shadow.Document.Content))

	edits, err := f.store.GetEdits(ctx, doc.Key())
	require.NoError(t, err)
	assert.Empty(t, edits)
	assert.Len(t, f.calls, 1)
}

func TestPatchVersionMismatchSkipsButContinues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"v":0}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	mismatched := serverEdit(0, 5,
		jsonpatch.Operation{Op: jsonpatch.OpReplace, Path: "/v", Value: document.Number(99)},
	)
	good := serverEdit(0, 0,
		jsonpatch.Operation{Op: jsonpatch.OpReplace, Path: "/v", Value: document.Number(1)},
	)

	require.NoError(t, f.engine.Patch(ctx, patchMsg(mismatched, good)))

	shadow, _, err := f.store.GetShadow(ctx, doc.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), shadow.ServerVersion)
	assert.True(t, document.Equal(parse(t, `{"v":1}`), shadow.Document.Content))
	assert.Len(t, f.calls, 1)
}

func TestPatchRestoresFromBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"v":0}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	// Local diff advances the shadow to client version 1; backup stays
	// at version 0. The outbound message carrying that edit is lost.
	doc.Content = parse(t, `{"v":0,"local":true}`)
	_, _, err := f.engine.Diff(ctx, doc)
	require.NoError(t, err)

	edits, err := f.store.GetEdits(ctx, doc.Key())
	require.NoError(t, err)
	require.Len(t, edits, 1)

	// The peer never saw the lost edit: it answers against client
	// version 0, which no longer matches the live shadow.
	divergent := serverEdit(0, 0,
		jsonpatch.Operation{Op: jsonpatch.OpReplace, Path: "/v", Value: document.Number(7)},
	)
	require.NoError(t, f.engine.Patch(ctx, patchMsg(divergent)))

	// Backup content {"v":0} patched to {"v":7}; queue wiped
	shadow, _, err := f.store.GetShadow(ctx, doc.Key())
	require.NoError(t, err)
	assert.True(t, document.Equal(parse(t, `{"v":7}`), shadow.Document.Content))
	assert.Equal(t, int64(0), shadow.ClientVersion)

	edits, err = f.store.GetEdits(ctx, doc.Key())
	require.NoError(t, err)
	assert.Empty(t, edits)

	require.Len(t, f.calls, 1)
}

func TestPatchDivergenceWithoutBackupMatchSkips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"v":0}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	// Two local diffs: shadow at client version 2, backup still 0
	doc.Content = parse(t, `{"v":1}`)
	_, _, err := f.engine.Diff(ctx, doc)
	require.NoError(t, err)
	doc.Content = parse(t, `{"v":2}`)
	_, _, err = f.engine.Diff(ctx, doc)
	require.NoError(t, err)

	// Divergent edit at client version 1 matches neither shadow nor backup
	divergent := serverEdit(1, 0,
		jsonpatch.Operation{Op: jsonpatch.OpReplace, Path: "/v", Value: document.Number(9)},
	)
	require.NoError(t, f.engine.Patch(ctx, patchMsg(divergent)))

	// Nothing moved: shadow keeps local state, queue intact, no callback
	shadow, _, err := f.store.GetShadow(ctx, doc.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(2), shadow.ClientVersion)
	assert.True(t, document.Equal(parse(t, `{"v":2}`), shadow.Document.Content))

	edits, err := f.store.GetEdits(ctx, doc.Key())
	require.NoError(t, err)
	assert.Len(t, edits, 2)
	assert.Empty(t, f.calls)
}

func TestPatchSeedResetsClientVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"v":0}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	// Local drift the server cannot reconcile
	doc.Content = parse(t, `{"v":1}`)
	_, _, err := f.engine.Diff(ctx, doc)
	require.NoError(t, err)
	doc.Content = parse(t, `{"v":2}`)
	_, _, err = f.engine.Diff(ctx, doc)
	require.NoError(t, err)

	seed := serverEdit(document.SeedVersion, 0,
		jsonpatch.Operation{Op: jsonpatch.OpAdd, Path: "", Value: parse(t, `{"v":100,"seeded":true}`)},
	)
	require.NoError(t, f.engine.Patch(ctx, patchMsg(seed)))

	shadow, _, err := f.store.GetShadow(ctx, doc.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(0), shadow.ClientVersion)
	assert.Equal(t, int64(0), shadow.ServerVersion)
	assert.True(t, document.Equal(parse(t, `{"v":100,"seeded":true}`), shadow.Document.Content))

	// Working document adopts the seeded state; backup re-anchors at 0
	stored, _, err := f.store.GetClientDocument(ctx, doc.Key())
	require.NoError(t, err)
	assert.True(t, document.Equal(parse(t, `{"v":100,"seeded":true}`), stored.Content))

	backup, _, err := f.store.GetBackup(ctx, doc.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(0), backup.Version)

	require.Len(t, f.calls, 1)
}

func TestPatchUnknownDocumentIsNoOp(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Patch(context.Background(), patchMsg(serverEdit(0, 0)))

	assert.NoError(t, err)
	assert.Empty(t, f.calls)
}

func TestPatchMissingCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Shadow and document exist (e.g. restored from a durable store)
	// but Add was never called in this process.
	doc := jsonDoc("doc1", "client1", `{"v":0}`, t)
	require.NoError(t, f.store.SaveClientDocument(ctx, doc))
	require.NoError(t, f.store.SaveShadow(ctx, document.ShadowDocument[document.Value]{Document: doc}))

	err := f.engine.Patch(ctx, patchMsg(serverEdit(0, 0,
		jsonpatch.Operation{Op: jsonpatch.OpReplace, Path: "/v", Value: document.Number(1)},
	)))

	require.Error(t, err)
	assert.True(t, IsMissingCallback(err))
}

func TestPatchApplicationErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"v":0}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	bad := serverEdit(0, 0,
		jsonpatch.Operation{Op: jsonpatch.OpRemove, Path: "/missing"},
	)
	err := f.engine.Patch(ctx, patchMsg(bad))

	require.Error(t, err)
	assert.True(t, IsPatchFailed(err))

	op, ok := OffendingOp(err)
	require.True(t, ok)
	assert.Equal(t, "/missing", op.Path)

	// Shadow untouched by the failed edit
	shadow, _, err2 := f.store.GetShadow(ctx, doc.Key())
	require.NoError(t, err2)
	assert.Equal(t, int64(0), shadow.ServerVersion)
	assert.True(t, document.Equal(parse(t, `{"v":0}`), shadow.Document.Content))
}

func TestPatchFromJSONMalformed(t *testing.T) {
	f := newFixture(t)

	err := f.engine.PatchFromJSON(context.Background(), `{"msgType":`)

	require.Error(t, err)
	assert.True(t, IsMalformedMessage(err))
}

func TestPatchFromJSONWire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"name":"fletch"}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	raw := `{"msgType":"patch","id":"doc1","clientId":"client1","edits":[` +
		`{"clientVersion":0,"serverVersion":0,"checksum":"",` +
		`"diffs":[{"op":"replace","path":"/name","value":"Fletch"}]}]}`

	require.NoError(t, f.engine.PatchFromJSON(ctx, raw))
	require.Len(t, f.calls, 1)
	assert.True(t, document.Equal(parse(t, `{"name":"Fletch"}`), f.calls[0].Content))
}

func TestValidatorRejectsDocument(t *testing.T) {
	ctx := context.Background()
	rejected := func(document.Document[document.Value]) error {
		return assert.AnError
	}
	f := newFixture(t, WithValidator[document.Value, jsonsync.Edit, jsonsync.PatchMessage](rejected))

	doc := jsonDoc("doc1", "client1", `{"v":0}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	err := f.engine.Patch(ctx, patchMsg(serverEdit(0, 0,
		jsonpatch.Operation{Op: jsonpatch.OpReplace, Path: "/v", Value: document.Number(1)},
	)))

	require.Error(t, err)
	assert.True(t, IsSchemaViolation(err))

	// Working document kept its previous content
	stored, _, err2 := f.store.GetClientDocument(ctx, doc.Key())
	require.NoError(t, err2)
	assert.True(t, document.Equal(parse(t, `{"v":0}`), stored.Content))
	assert.Empty(t, f.calls)
}

func TestDocumentToJSON(t *testing.T) {
	f := newFixture(t)
	doc := jsonDoc("1234", "client1", `{"name":"fletch"}`, t)

	raw, err := f.engine.DocumentToJSON(doc)

	require.NoError(t, err)
	assert.Equal(t, `{"msgType":"add","id":"1234","clientId":"client1","content":{"name":"fletch"}}`, raw)
}

func TestRoundTripConvergence(t *testing.T) {
	// A full conversation: local change, peer acknowledgment, peer
	// change, with both sides' versions marching forward.
	ctx := context.Background()
	f := newFixture(t)
	doc := jsonDoc("doc1", "client1", `{"items":[]}`, t)
	require.NoError(t, f.engine.Add(ctx, doc, f.callback))

	// Local change goes out
	doc.Content = parse(t, `{"items":["apple"]}`)
	msg, found, err := f.engine.Diff(ctx, doc)
	require.NoError(t, err)
	require.True(t, found)
	wire, err := msg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, wire, `"msgType":"patch"`)

	// Peer acknowledges by answering at our advanced client version
	// with its own change.
	ack := serverEdit(1, 0,
		jsonpatch.Operation{Op: jsonpatch.OpAdd, Path: "/items/1", Value: document.String("banana")},
	)
	require.NoError(t, f.engine.Patch(ctx, patchMsg(ack)))

	shadow, _, err := f.store.GetShadow(ctx, doc.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), shadow.ClientVersion)
	assert.Equal(t, int64(1), shadow.ServerVersion)

	stored, _, err := f.store.GetClientDocument(ctx, doc.Key())
	require.NoError(t, err)
	assert.True(t, document.Equal(parse(t, `{"items":["apple","banana"]}`), stored.Content))

	require.Len(t, f.calls, 1)
}
