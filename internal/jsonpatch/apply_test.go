package jsonpatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synclib/diffsync/internal/document"
)

func TestApplyAddActsAsReplaceOnExistingKey(t *testing.T) {
	doc := mustParse(t, `{"k":"old"}`)

	patched, err := Apply([]Operation{
		{Op: OpAdd, Path: "/k", Value: document.String("new")},
	}, doc)

	require.NoError(t, err)
	assert.True(t, document.Equal(mustParse(t, `{"k":"new"}`), patched))
}

func TestApplyAddArrayInsert(t *testing.T) {
	doc := mustParse(t, `{"l":[1,3]}`)

	patched, err := Apply([]Operation{
		{Op: OpAdd, Path: "/l/1", Value: document.Number(2)},
		{Op: OpAdd, Path: "/l/-", Value: document.Number(4)},
	}, doc)

	require.NoError(t, err)
	assert.True(t, document.Equal(mustParse(t, `{"l":[1,2,3,4]}`), patched))
}

func TestApplyRemoveMissingPathFails(t *testing.T) {
	doc := mustParse(t, `{"k":1}`)

	_, err := Apply([]Operation{{Op: OpRemove, Path: "/absent"}}, doc)

	require.Error(t, err)
	assert.True(t, IsApplyError(err))

	var ae *ApplyError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, OpRemove, ae.Op.Op)
	assert.Equal(t, "/absent", ae.Op.Path)
}

func TestApplyReplaceMissingPathFails(t *testing.T) {
	doc := mustParse(t, `{}`)

	_, err := Apply([]Operation{{Op: OpReplace, Path: "/absent", Value: document.Number(1)}}, doc)

	assert.True(t, IsApplyError(err))
}

func TestApplyMove(t *testing.T) {
	doc := mustParse(t, `{"a":{"b":1},"c":{}}`)

	patched, err := Apply([]Operation{
		{Op: OpMove, Path: "/c/b", From: "/a/b"},
	}, doc)

	require.NoError(t, err)
	assert.True(t, document.Equal(mustParse(t, `{"a":{},"c":{"b":1}}`), patched))
}

func TestApplyCopy(t *testing.T) {
	doc := mustParse(t, `{"a":[1,2]}`)

	patched, err := Apply([]Operation{
		{Op: OpCopy, Path: "/b", From: "/a"},
	}, doc)

	require.NoError(t, err)
	assert.True(t, document.Equal(mustParse(t, `{"a":[1,2],"b":[1,2]}`), patched))
}

func TestApplyTest(t *testing.T) {
	doc := mustParse(t, `{"a":1}`)

	_, err := Apply([]Operation{{Op: OpTest, Path: "/a", Value: document.Number(1)}}, doc)
	assert.NoError(t, err)

	_, err = Apply([]Operation{{Op: OpTest, Path: "/a", Value: document.Number(2)}}, doc)
	assert.True(t, IsApplyError(err))
}

func TestApplyGetIsIgnored(t *testing.T) {
	doc := mustParse(t, `{"a":1}`)

	patched, err := Apply([]Operation{
		{Op: OpAdd, Path: "/b", Value: document.Number(2)},
		{Op: OpGet, Path: ""},
	}, doc)

	require.NoError(t, err)
	assert.True(t, document.Equal(mustParse(t, `{"a":1,"b":2}`), patched))
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	doc := mustParse(t, `{"a":{"b":1}}`)

	_, err := Apply([]Operation{
		{Op: OpReplace, Path: "/a/b", Value: document.Number(9)},
	}, doc)

	require.NoError(t, err)
	assert.True(t, document.Equal(mustParse(t, `{"a":{"b":1}}`), doc))
}

func TestApplyRootAdd(t *testing.T) {
	patched, err := Apply([]Operation{
		{Op: OpAdd, Path: "", Value: mustParse(t, `{"fresh":true}`)},
	}, mustParse(t, `{"stale":true}`))

	require.NoError(t, err)
	assert.True(t, document.Equal(mustParse(t, `{"fresh":true}`), patched))
}

func TestApplyStopsAtFirstError(t *testing.T) {
	doc := mustParse(t, `{"a":1}`)

	_, err := Apply([]Operation{
		{Op: OpRemove, Path: "/missing"},
		{Op: OpAdd, Path: "/b", Value: document.Number(2)},
	}, doc)

	require.Error(t, err)
	// Input untouched even though a later op was valid
	assert.True(t, document.Equal(mustParse(t, `{"a":1}`), doc))
}

func TestOperationJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		wire string
	}{
		{
			"add with value",
			Operation{Op: OpAdd, Path: "/key2", Value: document.String("value2")},
			`{"op":"add","path":"/key2","value":"value2"}`,
		},
		{
			"remove without value",
			Operation{Op: OpRemove, Path: "/k2"},
			`{"op":"remove","path":"/k2"}`,
		},
		{
			"move carries from",
			Operation{Op: OpMove, Path: "/b", From: "/a"},
			`{"op":"move","path":"/b","from":"/a"}`,
		},
		{
			"embedded quotes escaped",
			Operation{Op: OpReplace, Path: "/name", Value: document.String(`say "hi"`)},
			`{"op":"replace","path":"/name","value":"say \"hi\""}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, string(data))

			var decoded Operation
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.True(t, tt.op.Equal(decoded))
		})
	}
}

func TestOperationUnmarshalNullValue(t *testing.T) {
	var op Operation
	require.NoError(t, json.Unmarshal([]byte(`{"op":"add","path":"/k","value":null}`), &op))
	assert.True(t, document.Equal(document.Null{}, op.Value))
}

func TestPointerRoundTrip(t *testing.T) {
	tokens, err := parsePointer("/a~1b/c~0d/0")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b", "c~d", "0"}, tokens)

	_, err = parsePointer("no-slash")
	assert.Error(t, err)
}
