package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/easystate/internal/harness"
	"github.com/roach88/easystate/internal/loop"
	"github.com/roach88/easystate/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	FrameInterval time.Duration // overrides the config file when set
	Metrics       bool
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Result *harness.Result `json:"result"`
	Passes int64           `json:"frame_passes"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario on a live event loop",
		Long: `Run a single scenario on a live event loop.

Unlike test, frames come from the loop's ticker, so "frame" steps wait
for real frame passes. The trace is printed as it was recorded and, with
--metrics, the Prometheus metrics of the run follow it.

Examples:
  easystate run scenarios/batch_sync.yaml
  easystate run scenarios/batch_sync.yaml --frame-interval 5ms --metrics`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.FrameInterval, "frame-interval", 0, "frame tick interval (default from config)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print Prometheus metrics after the trace")

	return cmd
}

func (o *RunOptions) interval() time.Duration {
	if o.FrameInterval > 0 {
		return o.FrameInterval
	}
	if o.Config.FrameInterval > 0 {
		return o.Config.FrameInterval
	}
	return 16 * time.Millisecond
}

func runLive(opts *RunOptions, file string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := opts.logger()

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f.Fail(ExitCommandError, ErrCodeNotFound, "scenario not found", err)
		}
		return f.Fail(ExitCommandError, ErrCodeInvalid, "failed to load scenario", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to set up metrics", err)
	}

	l := loop.New(loop.WithFrameInterval(opts.interval()), loop.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := l.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	var result *harness.Result
	g.Go(func() error {
		defer l.Close()
		var err error
		result, err = harness.Run(scenario,
			harness.WithDriver(harness.NewLoopDriver(gctx, l)),
			harness.WithTracer(collector),
			harness.WithLogger(logger),
		)
		return err
	})

	if err := g.Wait(); err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, "scenario execution failed", err)
	}
	logger.Debug("scenario finished", "scenario", scenario.Name, "frame_passes", l.Passes())

	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: RunOutput{Result: result, Passes: l.Passes()}}
		if !result.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeTestFailed, Message: "scenario failed"}
		}
		if err := f.JSON(resp); err != nil {
			return err
		}
	} else {
		printTrace(f.Writer, result)
		if opts.Metrics {
			fmt.Fprintln(f.Writer)
			if err := metrics.WriteText(f.Writer, reg); err != nil {
				return WrapExitError(ExitFailure, "failed to write metrics", err)
			}
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", result.Scenario))
	}
	return nil
}

// printTrace writes one line per notification followed by the verdict.
func printTrace(w io.Writer, result *harness.Result) {
	fmt.Fprintf(w, "Scenario: %s\n", result.Scenario)
	for _, ev := range result.Trace {
		fmt.Fprintf(w, "  [%d] %s (%s) rev=%d\n", ev.Seq, ev.Observer, ev.Mode, ev.Revision)
	}
	fmt.Fprintf(w, "Frames: %d\n", result.Frames)

	if result.Pass {
		fmt.Fprintln(w, "✓ passed")
		return
	}
	fmt.Fprintln(w, "✗ failed")
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
