package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/easystate/internal/harness"
)

// FileValidation is the validation outcome of one scenario file.
type FileValidation struct {
	File  string `json:"file"`
	Name  string `json:"name,omitempty"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate scenario files without running them",
		Long: `Parse and validate scenario files without running them.

Each path is a scenario file or a directory of them. Checks YAML syntax,
unknown fields, step shapes and assertion arguments, including that
schema constraints compile. Defaults to scenarios_dir from the config
file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{rootOpts.Config.ScenariosDir}
			}
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	files, err := collectScenarioFiles(paths, "")
	if err != nil {
		_ = f.Error(ErrCodeNotFound, err.Error(), nil)
		return err
	}
	if len(files) == 0 {
		return f.Fail(ExitCommandError, ErrCodeNotFound, "no scenario files found", nil)
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, file := range files {
		f.VerboseLog("Validating %s", file)

		fv := FileValidation{File: file, Valid: true}
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			fv.Valid = false
			fv.Error = err.Error()
			result.Valid = false
		} else {
			fv.Name = scenario.Name
		}
		result.Files = append(result.Files, fv)
	}

	invalid := 0
	for _, fv := range result.Files {
		if !fv.Valid {
			invalid++
		}
	}

	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeInvalid, Message: fmt.Sprintf("%d invalid scenario file(s)", invalid)}
		}
		if err := f.JSON(resp); err != nil {
			return err
		}
	} else {
		for _, fv := range result.Files {
			if fv.Valid {
				fmt.Fprintf(f.Writer, "✓ %s\n", fv.File)
				continue
			}
			fmt.Fprintf(f.Writer, "✗ %s\n  %s\n", fv.File, fv.Error)
		}
		if result.Valid {
			fmt.Fprintln(f.Writer, "✓ All scenarios valid")
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", invalid))
	}
	return nil
}
