package harness

import (
	"context"
	"fmt"

	"github.com/synclib/diffsync/internal/document"
	"github.com/synclib/diffsync/internal/engine"
	"github.com/synclib/diffsync/internal/jsonpatch"
	"github.com/synclib/diffsync/internal/jsonsync"
	"github.com/synclib/diffsync/internal/store"
)

// TraceEvent captures the observable engine state after one step.
// Document is the stored working document serialized with sorted keys
// so traces are byte-stable.
type TraceEvent struct {
	Step          int    `json:"step"`
	Action        string `json:"action"`
	ClientVersion int64  `json:"client_version"`
	ServerVersion int64  `json:"server_version"`
	QueueLength   int    `json:"queue_length"`
	Document      string `json:"document"`
	Callbacks     int    `json:"callbacks"`
}

// Result is the outcome of a scenario run.
type Result struct {
	Scenario *Scenario
	Trace    []TraceEvent
}

// Run executes a scenario against a fresh engine over the in-memory
// store. Step 0 of the trace records the state right after Add; each
// following event records the state after that scenario step.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	memory := store.NewMemory[document.Value, jsonsync.Edit]()
	eng := engine.New[document.Value, jsonsync.Edit, jsonsync.PatchMessage](jsonsync.New(), memory)

	content, err := document.FromAny(scenario.Document.Content)
	if err != nil {
		return nil, fmt.Errorf("document content: %w", err)
	}
	doc := document.Document[document.Value]{
		ID:       scenario.Document.ID,
		ClientID: scenario.Document.ClientID,
		Content:  content,
	}

	callbacks := 0
	err = eng.Add(ctx, doc, func(document.Document[document.Value]) {
		callbacks++
	})
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}

	result := &Result{Scenario: scenario}

	record := func(step int, action string) error {
		event, err := snapshot(ctx, memory, doc.Key(), step, action, callbacks)
		if err != nil {
			return err
		}
		result.Trace = append(result.Trace, event)
		return nil
	}

	if err := record(0, "add"); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		switch step.Action {
		case ActionDiff:
			newContent, err := document.FromAny(step.Content)
			if err != nil {
				return nil, fmt.Errorf("step %d content: %w", i+1, err)
			}
			changed := doc
			changed.Content = newContent
			if _, _, err := eng.Diff(ctx, changed); err != nil {
				return nil, fmt.Errorf("step %d diff: %w", i+1, err)
			}

		case ActionPatch:
			edits, err := buildEdits(scenario, step.Edits)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i+1, err)
			}
			message := jsonsync.PatchMessage{
				MsgDocumentID: scenario.Document.ID,
				MsgClientID:   scenario.Document.ClientID,
				MsgEdits:      edits,
			}
			if err := eng.Patch(ctx, message); err != nil {
				return nil, fmt.Errorf("step %d patch: %w", i+1, err)
			}
		}

		if err := record(i+1, step.Action); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func buildEdits(scenario *Scenario, specs []EditSpec) ([]jsonsync.Edit, error) {
	edits := make([]jsonsync.Edit, len(specs))
	for i, spec := range specs {
		diffs := make([]jsonpatch.Operation, len(spec.Diffs))
		for j, d := range spec.Diffs {
			op := jsonpatch.Operation{Op: d.Op, Path: d.Path, From: d.From}
			if d.Value != nil {
				value, err := document.FromAny(d.Value)
				if err != nil {
					return nil, fmt.Errorf("edit %d diff %d value: %w", i, j, err)
				}
				op.Value = value
			}
			diffs[j] = op
		}
		edits[i] = jsonsync.Edit{
			ClientID:      scenario.Document.ClientID,
			DocumentID:    scenario.Document.ID,
			ClientVersion: spec.ClientVersion,
			ServerVersion: spec.ServerVersion,
			Checksum:      spec.Checksum,
			Diffs:         diffs,
		}
	}
	return edits, nil
}

func snapshot(ctx context.Context, memory *store.Memory[document.Value, jsonsync.Edit], key document.Key, step int, action string, callbacks int) (TraceEvent, error) {
	shadow, _, err := memory.GetShadow(ctx, key)
	if err != nil {
		return TraceEvent{}, fmt.Errorf("snapshot shadow: %w", err)
	}
	stored, _, err := memory.GetClientDocument(ctx, key)
	if err != nil {
		return TraceEvent{}, fmt.Errorf("snapshot document: %w", err)
	}
	edits, err := memory.GetEdits(ctx, key)
	if err != nil {
		return TraceEvent{}, fmt.Errorf("snapshot edits: %w", err)
	}

	content, err := document.MarshalValue(stored.Content)
	if err != nil {
		return TraceEvent{}, fmt.Errorf("snapshot content: %w", err)
	}

	return TraceEvent{
		Step:          step,
		Action:        action,
		ClientVersion: shadow.ClientVersion,
		ServerVersion: shadow.ServerVersion,
		QueueLength:   len(edits),
		Document:      string(content),
		Callbacks:     callbacks,
	}, nil
}
