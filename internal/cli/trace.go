package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/easystate/internal/canonical"
	"github.com/roach88/easystate/internal/tracestore"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Scenario string
	Latest   bool
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID        string   `json:"id"`
	Seq       int64    `json:"seq"`
	Scenario  string   `json:"scenario"`
	Pass      bool     `json:"pass"`
	Frames    int      `json:"frames"`
	TraceHash string   `json:"trace_hash"`
	Errors    []string `json:"errors,omitempty"`
}

// NotificationView is one notification of a run.
type NotificationView struct {
	Seq       int64  `json:"seq"`
	Observer  string `json:"observer"`
	Mode      string `json:"mode"`
	Revision  int64  `json:"revision"`
	StateHash string `json:"state_hash"`
	State     any    `json:"state"`
}

// RunDetail is a run with its notifications.
type RunDetail struct {
	Run           RunSummary         `json:"run"`
	Notifications []NotificationView `json:"notifications"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded runs",
		Long: `Inspect runs recorded by "easystate test --db".

Without --run or --latest, lists the recorded runs, optionally only
those of one scenario. With --run, prints the notifications of that run.
With --latest, prints the most recent run of --scenario.

Examples:
  easystate trace --db traces.db
  easystate trace --db traces.db --scenario batch_sync
  easystate trace --db traces.db --run 0192c3f0-...
  easystate trace --db traces.db --scenario batch_sync --latest --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace store (default from config)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show the notifications of this run")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "only runs of this scenario")
	cmd.Flags().BoolVar(&opts.Latest, "latest", false, "show the latest run of --scenario")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	db := opts.Database
	if db == "" {
		db = opts.Config.Database
	}
	if db == "" {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "no trace store: pass --db or set database in the config file", nil)
	}
	if opts.Latest && opts.Scenario == "" {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "--latest requires --scenario", nil)
	}

	store, err := tracestore.Open(db)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to open trace store", err)
	}
	defer store.Close()

	var run tracestore.Run
	switch {
	case opts.RunID != "":
		run, err = store.ReadRun(ctx, opts.RunID)
	case opts.Latest:
		run, err = store.LatestRun(ctx, opts.Scenario)
	default:
		return listRuns(ctx, store, opts.Scenario, f)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, "run not found", nil)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to read run", err)
	}
	return showRun(ctx, store, run, f)
}

func listRuns(ctx context.Context, store *tracestore.Store, scenario string, f *OutputFormatter) error {
	runs, err := store.ListRuns(ctx, scenario)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to list runs", err)
	}

	summaries := make([]RunSummary, len(runs))
	for i, r := range runs {
		summaries[i] = summarize(r)
	}

	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: summaries})
	}

	if len(summaries) == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded.")
		return nil
	}
	for _, s := range summaries {
		mark := "✓"
		if !s.Pass {
			mark = "✗"
		}
		fmt.Fprintf(f.Writer, "%s %4d  %s  %s  frames=%d  trace=%s\n", mark, s.Seq, s.ID, s.Scenario, s.Frames, shortHash(s.TraceHash))
	}
	return nil
}

func showRun(ctx context.Context, store *tracestore.Store, run tracestore.Run, f *OutputFormatter) error {
	notifications, err := store.ReadNotifications(ctx, run.ID)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to read notifications", err)
	}

	detail := RunDetail{
		Run:           summarize(run),
		Notifications: make([]NotificationView, len(notifications)),
	}
	for i, n := range notifications {
		detail.Notifications[i] = NotificationView{
			Seq:       n.Seq,
			Observer:  n.Observer,
			Mode:      n.Mode,
			Revision:  n.Revision,
			StateHash: n.StateHash,
			State:     n.State,
		}
	}

	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: detail})
	}
	printRunDetail(f.Writer, detail)
	return nil
}

func printRunDetail(w io.Writer, d RunDetail) {
	status := "passed"
	if !d.Run.Pass {
		status = "failed"
	}
	fmt.Fprintf(w, "Run: %s (#%d)\n", d.Run.ID, d.Run.Seq)
	fmt.Fprintf(w, "Scenario: %s (%s)\n", d.Run.Scenario, status)
	fmt.Fprintf(w, "Frames: %d\n", d.Run.Frames)
	fmt.Fprintf(w, "Trace hash: %s\n", d.Run.TraceHash)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notifications:")
	if len(d.Notifications) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, n := range d.Notifications {
		state, err := canonical.Marshal(n.State)
		if err != nil {
			state = []byte(fmt.Sprintf("%v", n.State))
		}
		fmt.Fprintf(w, "  [%d] %s (%s) rev=%d %s\n", n.Seq, n.Observer, n.Mode, n.Revision, state)
	}

	if len(d.Run.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for _, e := range d.Run.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

func summarize(r tracestore.Run) RunSummary {
	return RunSummary{
		ID:        r.ID,
		Seq:       r.Seq,
		Scenario:  r.Scenario,
		Pass:      r.Pass,
		Frames:    r.Frames,
		TraceHash: r.TraceHash,
		Errors:    r.Errors,
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
