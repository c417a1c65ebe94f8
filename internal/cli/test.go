package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/easystate/internal/harness"
	"github.com/roach88/easystate/internal/tracestore"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update   bool   // regenerate golden files
	Filter   string // scenario filter (glob pattern)
	Database string // trace store; overrides the config file
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	RunID  string   `json:"run_id,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test [scenarios-dir]",
		Short: "Run scenarios and check their assertions",
		Long: `Run every scenario in a directory.

Each scenario runs on a manually pumped frame scheduler, so results are
deterministic. A scenario passes when its assertions hold, no observer
failed and, if <dir>/golden/<name>.golden exists, the trace matches it.
With --db (or database in the config file) every run is recorded.

The directory defaults to scenarios_dir from the config file.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  easystate test ./scenarios
  easystate test ./scenarios --filter "batch_*"
  easystate test ./scenarios --update
  easystate test ./scenarios --db traces.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.Config.ScenariosDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runTests(cmd.Context(), opts, dir, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record runs in this SQLite trace store")

	return cmd
}

func (o *TestOptions) database() string {
	if o.Database != "" {
		return o.Database
	}
	return o.Config.Database
}

func runTests(ctx context.Context, opts *TestOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("scenarios directory not found: %s", dir), nil)
	}

	var store *tracestore.Store
	if db := opts.database(); db != "" {
		s, err := tracestore.Open(db)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to open trace store", err)
		}
		defer s.Close()
		store = s
	}

	result, err := executeScenarios(ctx, opts, dir, store, f)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			_ = f.Error(ErrCodeInvalid, exitErr.Error(), nil)
			return err
		}
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to find scenarios", err)
	}

	if f.Format == "json" {
		return outputTestJSON(f, result)
	}
	return outputTestText(f.Writer, result)
}

// executeScenarios runs every scenario in dir. Text output gets one line
// per scenario as it finishes.
func executeScenarios(ctx context.Context, opts *TestOptions, dir string, store *tracestore.Store, f *OutputFormatter) (TestResult, error) {
	files, err := collectScenarioFiles([]string{dir}, opts.Filter)
	if err != nil {
		return TestResult{}, err
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}

	for _, file := range files {
		sr := runScenarioFile(ctx, opts, file, store)
		f.VerboseLog("ran %s: pass=%t", file, sr.Pass)
		if f.Format != "json" {
			printScenarioResult(f.Writer, sr)
		}

		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// runScenarioFile loads, runs and checks a single scenario file.
func runScenarioFile(ctx context.Context, opts *TestOptions, file string, store *tracestore.Store) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(file), File: file}
	fail := func(format string, args ...any) ScenarioResult {
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf(format, args...))
		return sr
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	sr.Name = scenario.Name

	result, err := harness.Run(scenario, harness.WithLogger(opts.logger()))
	if err != nil {
		return fail("execution failed: %v", err)
	}
	sr.Pass = result.Pass
	sr.Errors = append(sr.Errors, result.Errors...)

	if err := checkGolden(file, result, opts.Update); err != nil {
		sr.Pass = false
		sr.Errors = append(sr.Errors, err.Error())
	}

	if store != nil {
		run, err := store.WriteRun(ctx, result)
		if err != nil {
			return fail("failed to record run: %v", err)
		}
		sr.RunID = run.ID
		opts.logger().Debug("recorded run", "scenario", scenario.Name, "run", run.ID, "trace_hash", run.TraceHash)
	}
	return sr
}

// checkGolden compares a result with the scenario's golden file, or
// rewrites the file when update is set. A missing golden file is not an
// error unless update is set, in which case it is created.
func checkGolden(scenarioFile string, result *harness.Result, update bool) error {
	path := goldenFilePath(scenarioFile)

	if !update {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil
		}
	}

	current, err := harness.GoldenBytes(result)
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}

	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, current, 0644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		return nil
	}

	golden, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(golden, current) {
		return errors.New("trace does not match golden file (run with --update to regenerate)")
	}
	return nil
}

func printScenarioResult(w io.Writer, sr ScenarioResult) {
	if sr.Pass {
		fmt.Fprintf(w, "✓ %s\n", sr.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(f *OutputFormatter, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	if err := f.JSON(response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test summary as text.
func outputTestText(w io.Writer, result TestResult) error {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
