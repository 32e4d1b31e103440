package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synclib/diffsync/internal/document"
	"github.com/synclib/diffsync/internal/jsonpatch"
)

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "apply <doc.json> <patch.json>",
		Short: "Apply an RFC 6902 patch to a JSON document",
		Long: `Apply an operation list (as produced by diff) to a document and
print the result. With --write the document file is updated in place.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, args[0], args[1], write, cmd)
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "rewrite the document file with the patched result")
	return cmd
}

func runApply(opts *RootOptions, docPath, patchPath string, write bool, cmd *cobra.Command) error {
	doc, err := readJSONFile(docPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "read document", err)
	}

	patchData, err := os.ReadFile(patchPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "read patch", err)
	}
	var ops []jsonpatch.Operation
	if err := json.Unmarshal(patchData, &ops); err != nil {
		return WrapExitError(ExitCommandError, "parse patch", err)
	}

	patched, err := jsonpatch.Apply(ops, doc)
	if err != nil {
		return WrapExitError(ExitFailure, "apply patch", err)
	}

	result, err := document.MarshalValue(patched)
	if err != nil {
		return WrapExitError(ExitCommandError, "encode result", err)
	}

	if write {
		if err := os.WriteFile(docPath, append(result, '\n'), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "write document", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(result))
	return nil
}
