// Package harness provides a conformance harness for the sync engine.
// Scenarios are YAML files describing one document's conversation - a
// sequence of local diffs and inbound patches - executed against a real
// engine over the in-memory store. Each step's observable state (shadow
// versions, queue length, stored document, callback count) is recorded
// as a trace and compared against golden files.
package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; the golden file shares it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Document is the working document registered before the steps run.
	Document DocumentSpec `yaml:"document"`

	// Steps is the conversation: local diffs and inbound patches, in
	// order.
	Steps []Step `yaml:"steps"`
}

// DocumentSpec describes the initial working document.
type DocumentSpec struct {
	ID       string `yaml:"id"`
	ClientID string `yaml:"client_id"`
	Content  any    `yaml:"content"`
}

// Step actions.
const (
	ActionDiff  = "diff"
	ActionPatch = "patch"
)

// Step is a single protocol interaction.
type Step struct {
	// Action is "diff" (local change) or "patch" (inbound message).
	Action string `yaml:"action"`

	// Content is the new working-document content for diff steps.
	Content any `yaml:"content,omitempty"`

	// Edits are the inbound edits for patch steps.
	Edits []EditSpec `yaml:"edits,omitempty"`
}

// EditSpec describes one inbound edit.
type EditSpec struct {
	ClientVersion int64      `yaml:"client_version"`
	ServerVersion int64      `yaml:"server_version"`
	Checksum      string     `yaml:"checksum"`
	Diffs         []DiffSpec `yaml:"diffs"`
}

// DiffSpec describes one RFC 6902 operation.
type DiffSpec struct {
	Op    string `yaml:"op"`
	Path  string `yaml:"path"`
	From  string `yaml:"from,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if err := scenario.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	if s.Document.ID == "" || s.Document.ClientID == "" {
		return fmt.Errorf("document needs id and client_id")
	}
	for i, step := range s.Steps {
		switch step.Action {
		case ActionDiff:
			if step.Content == nil {
				return fmt.Errorf("step %d: diff needs content", i+1)
			}
		case ActionPatch:
			if len(step.Edits) == 0 {
				return fmt.Errorf("step %d: patch needs edits", i+1)
			}
		default:
			return fmt.Errorf("step %d: unknown action %q", i+1, step.Action)
		}
	}
	return nil
}
