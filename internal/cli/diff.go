package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synclib/diffsync/internal/document"
	"github.com/synclib/diffsync/internal/jsonpatch"
)

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <old.json> <new.json>",
		Short: "Compute the RFC 6902 patch between two JSON documents",
		Long: `Compute the RFC 6902 operation list that transforms the first
document into the second. The output is the same diff the sync engine
would put on the wire.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runDiff(opts *RootOptions, oldPath, newPath string, cmd *cobra.Command) error {
	oldDoc, err := readJSONFile(oldPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "read old document", err)
	}
	newDoc, err := readJSONFile(newPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "read new document", err)
	}

	ops := jsonpatch.Diff(oldDoc, newDoc)

	if opts.Format == "json" {
		if ops == nil {
			ops = []jsonpatch.Operation{}
		}
		data, err := json.Marshal(ops)
		if err != nil {
			return WrapExitError(ExitCommandError, "encode operations", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	if len(ops) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "documents are identical")
		return nil
	}
	for _, op := range ops {
		line := fmt.Sprintf("%-7s %s", op.Op, displayPath(op.Path))
		if op.From != "" {
			line += fmt.Sprintf(" from %s", op.From)
		}
		if op.Value != nil {
			value, err := document.MarshalValue(op.Value)
			if err != nil {
				return WrapExitError(ExitCommandError, "encode value", err)
			}
			line += fmt.Sprintf(" = %s", value)
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

func displayPath(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}

func readJSONFile(path string) (document.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := document.UnmarshalValue(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
