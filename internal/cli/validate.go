package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/stemlink/internal/compiler"
	"github.com/roach88/stemlink/internal/schema"
)

// ValidationIssue is one validation finding in structured output.
type ValidationIssue struct {
	Code    string `json:"code"`
	PIV     string `json:"piv,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	PIVs   int               `json:"pivs"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <model.cue>",
		Short: "Validate a linkage configuration without fitting",
		Long: `Compile a CUE linkage configuration and check it for structural and
estimability problems without touching any data.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, rc, err := compiler.LoadModelFile(path)
	if err != nil {
		formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "compile failed", err)
	}

	formatter.VerboseLog("compiled %d PIV(s) from %s", len(m.PIVs), path)

	var issues []ValidationIssue
	for _, ce := range schema.Validate(m) {
		issues = append(issues, ValidationIssue{
			Code:    ce.Code,
			PIV:     ce.PIV,
			Field:   ce.Field,
			Message: ce.Message,
		})
	}

	// The estimability guard only makes sense on a structurally valid
	// model. Run it against a copy so validate never mutates even with
	// allow_auto_fix set.
	if len(issues) == 0 {
		guarded := *m
		guarded.PIVs = append([]schema.PIV(nil), m.PIVs...)
		if err := schema.Guard(&guarded, *rc); err != nil {
			var ee *schema.EstimabilityError
			if errors.As(err, &ee) {
				issues = append(issues, ValidationIssue{
					Code:    ee.Code,
					PIV:     ee.PIV,
					Message: ee.Message,
				})
			} else {
				issues = append(issues, ValidationIssue{Message: err.Error()})
			}
		}
	}

	if err := schema.ValidateRun(*rc); err != nil {
		var ce *schema.ConfigurationError
		if errors.As(err, &ce) {
			issues = append(issues, ValidationIssue{
				Code:    ce.Code,
				Field:   ce.Field,
				Message: ce.Message,
			})
		} else {
			issues = append(issues, ValidationIssue{Message: err.Error()})
		}
	}

	result := ValidationResult{
		Valid:  len(issues) == 0,
		PIVs:   len(m.PIVs),
		Issues: issues,
	}

	if !result.Valid {
		if opts.Format == "json" {
			formatter.Success(result)
		} else {
			for _, issue := range issues {
				formatter.Error(issue.Code, issue.Message, nil)
			}
		}
		return WrapExitError(ExitFailure, "validation failed", nil)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	formatter.VerboseLog("run: %d stem x %d gibbs iterations", rc.StEMIter, rc.GibbsIter)
	return formatter.Success("configuration valid")
}
