package jsonpatch

import (
	"github.com/synclib/diffsync/internal/document"
)

// Diff computes an RFC 6902 operation list such that applying it to old
// yields new. The walk is recursive: keys only in new produce add, keys
// only in old produce remove, common keys recurse when both sides are
// objects or both are arrays and emit replace otherwise. Arrays compare
// positionally. On the same parent, adds are emitted before removes.
//
// The result is deterministic: object keys are visited in sorted order.
func Diff(old, new document.Value) []Operation {
	var ops []Operation
	diffValues("", old, new, &ops)
	return ops
}

func diffValues(path string, old, new document.Value, ops *[]Operation) {
	if document.Equal(old, new) {
		return
	}

	oldObj, oldIsObj := old.(document.Object)
	newObj, newIsObj := new.(document.Object)
	if oldIsObj && newIsObj {
		diffObjects(path, oldObj, newObj, ops)
		return
	}

	oldArr, oldIsArr := old.(document.Array)
	newArr, newIsArr := new.(document.Array)
	if oldIsArr && newIsArr {
		diffArrays(path, oldArr, newArr, ops)
		return
	}

	*ops = append(*ops, Operation{Op: OpReplace, Path: path, Value: document.Clone(new)})
}

func diffObjects(path string, old, new document.Object, ops *[]Operation) {
	// Adds before removes on the same parent: keys only in new first.
	for _, k := range new.SortedKeys() {
		if _, ok := old[k]; !ok {
			*ops = append(*ops, Operation{Op: OpAdd, Path: childPath(path, k), Value: document.Clone(new[k])})
		}
	}

	for _, k := range old.SortedKeys() {
		if newVal, ok := new[k]; ok {
			diffValues(childPath(path, k), old[k], newVal, ops)
		}
	}

	for _, k := range old.SortedKeys() {
		if _, ok := new[k]; !ok {
			*ops = append(*ops, Operation{Op: OpRemove, Path: childPath(path, k)})
		}
	}
}

func diffArrays(path string, old, new document.Array, ops *[]Operation) {
	common := len(old)
	if len(new) < common {
		common = len(new)
	}

	for i := 0; i < common; i++ {
		diffValues(indexPath(path, i), old[i], new[i], ops)
	}

	// Elements past the common prefix: appended in index order so each
	// add lands at the current end of the array.
	for i := common; i < len(new); i++ {
		*ops = append(*ops, Operation{Op: OpAdd, Path: indexPath(path, i), Value: document.Clone(new[i])})
	}

	// Surplus old elements are removed highest index first so earlier
	// removals do not shift the targets of later ones.
	for i := len(old) - 1; i >= common; i-- {
		*ops = append(*ops, Operation{Op: OpRemove, Path: indexPath(path, i)})
	}
}
