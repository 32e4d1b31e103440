package jsonpatch

import (
	"errors"
	"fmt"

	"github.com/synclib/diffsync/internal/document"
)

// ApplyError reports an operation that could not be applied: a remove or
// replace of a missing path, an out-of-range array index, a failed test.
// The offending operation is carried for diagnostics.
type ApplyError struct {
	Op      Operation
	Message string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("cannot apply %s %q: %s", e.Op.Op, e.Op.Path, e.Message)
}

// IsApplyError reports whether err is (or wraps) an ApplyError.
func IsApplyError(err error) bool {
	var ae *ApplyError
	return errors.As(err, &ae)
}

func applyError(op Operation, format string, args ...any) error {
	return &ApplyError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Apply executes ops in order against doc and returns the patched value.
// The input is never mutated. Operations follow RFC 6902: add to an
// existing object key acts as replace, remove of an absent path is an
// error. The non-standard "get" terminator is ignored.
func Apply(ops []Operation, doc document.Value) (document.Value, error) {
	result := document.Clone(doc)

	for _, op := range ops {
		var err error
		switch op.Op {
		case OpAdd:
			result, err = applyAdd(op, result)
		case OpRemove:
			result, err = applyRemove(op, result)
		case OpReplace:
			result, err = applyReplace(op, result)
		case OpMove:
			result, err = applyMove(op, result)
		case OpCopy:
			result, err = applyCopy(op, result)
		case OpTest:
			err = applyTest(op, result)
		case OpGet:
			// Terminator artifact of buffer-based patch libraries; the
			// patched root is returned directly here.
		default:
			err = applyError(op, "unknown op")
		}
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func applyAdd(op Operation, root document.Value) (document.Value, error) {
	if op.Value == nil {
		return nil, applyError(op, "missing value")
	}
	tokens, err := parsePointer(op.Path)
	if err != nil {
		return nil, applyError(op, "%v", err)
	}
	if len(tokens) == 0 {
		return document.Clone(op.Value), nil
	}
	return setPath(op, root, tokens, document.Clone(op.Value), true)
}

func applyReplace(op Operation, root document.Value) (document.Value, error) {
	if op.Value == nil {
		return nil, applyError(op, "missing value")
	}
	tokens, err := parsePointer(op.Path)
	if err != nil {
		return nil, applyError(op, "%v", err)
	}
	if len(tokens) == 0 {
		return document.Clone(op.Value), nil
	}
	if _, err := getPath(op, root, tokens); err != nil {
		return nil, err
	}
	return setPath(op, root, tokens, document.Clone(op.Value), false)
}

func applyRemove(op Operation, root document.Value) (document.Value, error) {
	tokens, err := parsePointer(op.Path)
	if err != nil {
		return nil, applyError(op, "%v", err)
	}
	if len(tokens) == 0 {
		return nil, applyError(op, "cannot remove document root")
	}
	return removePath(op, root, tokens)
}

func applyMove(op Operation, root document.Value) (document.Value, error) {
	fromTokens, err := parsePointer(op.From)
	if err != nil {
		return nil, applyError(op, "%v", err)
	}
	moved, err := getPath(op, root, fromTokens)
	if err != nil {
		return nil, err
	}
	moved = document.Clone(moved)
	root, err = removePath(op, root, fromTokens)
	if err != nil {
		return nil, err
	}
	tokens, err := parsePointer(op.Path)
	if err != nil {
		return nil, applyError(op, "%v", err)
	}
	if len(tokens) == 0 {
		return moved, nil
	}
	return setPath(op, root, tokens, moved, true)
}

func applyCopy(op Operation, root document.Value) (document.Value, error) {
	fromTokens, err := parsePointer(op.From)
	if err != nil {
		return nil, applyError(op, "%v", err)
	}
	copied, err := getPath(op, root, fromTokens)
	if err != nil {
		return nil, err
	}
	tokens, err := parsePointer(op.Path)
	if err != nil {
		return nil, applyError(op, "%v", err)
	}
	if len(tokens) == 0 {
		return document.Clone(copied), nil
	}
	return setPath(op, root, tokens, document.Clone(copied), true)
}

func applyTest(op Operation, root document.Value) error {
	if op.Value == nil {
		return applyError(op, "missing value")
	}
	tokens, err := parsePointer(op.Path)
	if err != nil {
		return applyError(op, "%v", err)
	}
	current, err := getPath(op, root, tokens)
	if err != nil {
		return err
	}
	if !document.Equal(current, op.Value) {
		return applyError(op, "test failed")
	}
	return nil
}

// getPath resolves tokens against root and returns the addressed value.
func getPath(op Operation, root document.Value, tokens []string) (document.Value, error) {
	current := root
	for _, token := range tokens {
		switch node := current.(type) {
		case document.Object:
			child, ok := node[token]
			if !ok {
				return nil, applyError(op, "path element %q not found", token)
			}
			current = child
		case document.Array:
			i, err := parseArrayIndex(token, len(node))
			if err != nil || i >= len(node) {
				return nil, applyError(op, "array index %q out of range", token)
			}
			current = node[i]
		default:
			return nil, applyError(op, "path element %q traverses a scalar", token)
		}
	}
	return current, nil
}

// setPath writes val at the addressed location and returns the (possibly
// replaced) root. insert selects add semantics for arrays: the element is
// spliced in at the index rather than overwriting it.
func setPath(op Operation, root document.Value, tokens []string, val document.Value, insert bool) (document.Value, error) {
	token := tokens[0]
	switch node := root.(type) {
	case document.Object:
		if len(tokens) == 1 {
			node[token] = val
			return node, nil
		}
		child, ok := node[token]
		if !ok {
			return nil, applyError(op, "path element %q not found", token)
		}
		updated, err := setPath(op, child, tokens[1:], val, insert)
		if err != nil {
			return nil, err
		}
		node[token] = updated
		return node, nil

	case document.Array:
		i, err := parseArrayIndex(token, len(node))
		if err != nil {
			return nil, applyError(op, "%v", err)
		}
		if len(tokens) == 1 {
			if insert {
				if i > len(node) {
					return nil, applyError(op, "array index %q out of range", token)
				}
				node = append(node, nil)
				copy(node[i+1:], node[i:])
				node[i] = val
				return node, nil
			}
			if i >= len(node) {
				return nil, applyError(op, "array index %q out of range", token)
			}
			node[i] = val
			return node, nil
		}
		if i >= len(node) {
			return nil, applyError(op, "array index %q out of range", token)
		}
		updated, err := setPath(op, node[i], tokens[1:], val, insert)
		if err != nil {
			return nil, err
		}
		node[i] = updated
		return node, nil

	default:
		return nil, applyError(op, "path element %q traverses a scalar", token)
	}
}

// removePath deletes the addressed element and returns the root.
func removePath(op Operation, root document.Value, tokens []string) (document.Value, error) {
	token := tokens[0]
	switch node := root.(type) {
	case document.Object:
		if len(tokens) == 1 {
			if _, ok := node[token]; !ok {
				return nil, applyError(op, "path element %q not found", token)
			}
			delete(node, token)
			return node, nil
		}
		child, ok := node[token]
		if !ok {
			return nil, applyError(op, "path element %q not found", token)
		}
		updated, err := removePath(op, child, tokens[1:])
		if err != nil {
			return nil, err
		}
		node[token] = updated
		return node, nil

	case document.Array:
		i, err := parseArrayIndex(token, len(node))
		if err != nil || i >= len(node) {
			return nil, applyError(op, "array index %q out of range", token)
		}
		if len(tokens) == 1 {
			node = append(node[:i], node[i+1:]...)
			return node, nil
		}
		updated, err := removePath(op, node[i], tokens[1:])
		if err != nil {
			return nil, err
		}
		node[i] = updated
		return node, nil

	default:
		return nil, applyError(op, "path element %q traverses a scalar", token)
	}
}
