// Package schema validates JSON document content against a CUE schema.
// A validator plugs into the engine as a document hook, so a client can
// refuse to adopt peer changes that break the document's declared shape.
package schema

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/synclib/diffsync/internal/document"
)

// ValidationError reports a document that does not satisfy the schema.
type ValidationError struct {
	DocumentID string
	Detail     string
}

func (e *ValidationError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("document %q violates schema: %s", e.DocumentID, e.Detail)
	}
	return fmt.Sprintf("document violates schema: %s", e.Detail)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validator checks JSON document content against a compiled CUE schema.
// Values are compiled in the validator's own CUE context; a Validator
// is safe for use from one goroutine at a time, matching the engine's
// serialization requirements.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// Compile builds a validator from CUE source. The source's top-level
// value is the schema documents are unified against.
func Compile(source string) (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(source)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// CompileFile builds a validator from a CUE schema file.
func CompileFile(path string) (*Validator, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	v, err := Compile(string(source))
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return v, nil
}

// Validate checks content against the schema. JSON is a subset of CUE,
// so the content's serialization compiles directly and is unified with
// the schema; any remaining incompleteness or conflict is a violation.
func (v *Validator) Validate(content document.Value) error {
	data, err := document.MarshalValue(content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}

	val := v.ctx.CompileBytes(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode content as CUE: %w", err)
	}

	unified := v.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return &ValidationError{Detail: cueerrors.Details(err, nil)}
	}
	return nil
}

// DocumentHook adapts the validator to the engine's validation hook
// signature, stamping violations with the document id.
func (v *Validator) DocumentHook() func(document.Document[document.Value]) error {
	return func(doc document.Document[document.Value]) error {
		if err := v.Validate(doc.Content); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return &ValidationError{DocumentID: doc.ID, Detail: ve.Detail}
			}
			return err
		}
		return nil
	}
}
