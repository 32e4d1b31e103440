package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/synclib/diffsync/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Detail string `json:"detail,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var schemaPath string

	cmd := &cobra.Command{
		Use:   "validate --schema <schema.cue> <doc.json>",
		Short: "Validate a JSON document against a CUE schema",
		Long: `Validate a JSON document against a CUE schema. The same schema can
be installed on the sync client so inbound patches that break the
document shape are rejected.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, schemaPath, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", "", "path to the CUE schema (required)")
	cmd.MarkFlagRequired("schema")
	return cmd
}

func runValidate(opts *RootOptions, schemaPath, docPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	validator, err := schema.CompileFile(schemaPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "compile schema", err)
	}

	doc, err := readJSONFile(docPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "read document", err)
	}

	if err := validator.Validate(doc); err != nil {
		var ve *schema.ValidationError
		detail := err.Error()
		if errors.As(err, &ve) {
			detail = ve.Detail
		}
		if opts.Format == "json" {
			formatter.Success(ValidationResult{Valid: false, Detail: detail})
		} else {
			formatter.Error(detail)
		}
		return WrapExitError(ExitFailure, "document does not satisfy schema", nil)
	}

	if opts.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}
	return formatter.Success("document satisfies schema")
}
