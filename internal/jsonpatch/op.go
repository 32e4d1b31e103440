// Package jsonpatch implements RFC 6902 diff and patch over the tagged
// JSON values of the document package. Diff produces the operation list
// that transforms one value into another; Apply executes an operation
// list against a value and returns the patched result.
package jsonpatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/synclib/diffsync/internal/document"
)

// Operation kinds defined by RFC 6902, plus the non-standard "get"
// terminator some JSON-Patch libraries emit to extract the patched root.
// Diff never produces OpGet and Apply treats it as a no-op; it must not
// reach the wire.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
	OpMove    = "move"
	OpCopy    = "copy"
	OpTest    = "test"
	OpGet     = "get"
)

// Operation is a single RFC 6902 operation. Path and From are JSON
// Pointers; Value is present for add, replace, and test.
type Operation struct {
	Op    string
	Path  string
	From  string
	Value document.Value
}

// Equal reports whether two operations are identical, comparing values
// structurally.
func (op Operation) Equal(other Operation) bool {
	if op.Op != other.Op || op.Path != other.Path || op.From != other.From {
		return false
	}
	if op.Value == nil || other.Value == nil {
		return op.Value == nil && other.Value == nil
	}
	return document.Equal(op.Value, other.Value)
}

// MarshalJSON emits the wire shape {"op":...,"path":...,...}. From is
// emitted only for move/copy; Value only when set.
func (op Operation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"op":`)
	opName, err := json.Marshal(op.Op)
	if err != nil {
		return nil, err
	}
	buf.Write(opName)
	buf.WriteString(`,"path":`)
	path, err := json.Marshal(op.Path)
	if err != nil {
		return nil, err
	}
	buf.Write(path)
	if op.Op == OpMove || op.Op == OpCopy {
		buf.WriteString(`,"from":`)
		from, err := json.Marshal(op.From)
		if err != nil {
			return nil, err
		}
		buf.Write(from)
	}
	if op.Value != nil {
		buf.WriteString(`,"value":`)
		val, err := document.MarshalValue(op.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal op value at %q: %w", op.Path, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses an operation, decoding the value through the
// document representation.
func (op *Operation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Op    string          `json:"op"`
		Path  string          `json:"path"`
		From  string          `json:"from"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	op.Op = raw.Op
	op.Path = raw.Path
	op.From = raw.From
	op.Value = nil
	if len(raw.Value) > 0 && string(raw.Value) != "null" {
		v, err := document.UnmarshalValue(raw.Value)
		if err != nil {
			return fmt.Errorf("op value at %q: %w", raw.Path, err)
		}
		op.Value = v
	} else if string(raw.Value) == "null" {
		op.Value = document.Null{}
	}
	return nil
}
