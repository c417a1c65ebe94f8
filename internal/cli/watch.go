package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/easystate/internal/tracestore"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	TestOptions
	Debounce time.Duration // overrides the config file when set
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{TestOptions: TestOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "watch [scenarios-dir]",
		Short: "Re-run scenarios whenever they change",
		Long: `Run the scenarios in a directory, then run them again every time a
scenario or golden file changes. Changes arriving within the debounce
window trigger a single re-run. Stops on Ctrl-C.

Examples:
  easystate watch ./scenarios
  easystate watch ./scenarios --debounce 500ms --db traces.db`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.Config.ScenariosDir
			if len(args) == 1 {
				dir = args[0]
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, opts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record runs in this SQLite trace store")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 0, "quiet period before re-running (default from config)")

	return cmd
}

func (o *WatchOptions) debounce() time.Duration {
	if o.Debounce > 0 {
		return o.Debounce
	}
	if o.Config.WatchDebounce > 0 {
		return o.Config.WatchDebounce
	}
	return 200 * time.Millisecond
}

// runWatch runs the scenarios once, then on every debounced change until
// ctx is done. Scenario failures are reported but never stop the watch.
func runWatch(ctx context.Context, opts *WatchOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := opts.logger()

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

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to create watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to watch directory", err)
	}
	if golden := filepath.Join(dir, "golden"); isDir(golden) {
		if err := watcher.Add(golden); err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "failed to watch golden directory", err)
		}
	}

	rerun := func() {
		result, err := executeScenarios(ctx, &opts.TestOptions, dir, store, f)
		if err != nil {
			logger.Error("watch run failed", "error", err)
			return
		}
		if f.Format == "json" {
			_ = outputTestJSON(f, result)
			return
		}
		_ = outputTestText(f.Writer, result)
	}

	rerun()
	logger.Info("watching for changes", "dir", dir, "debounce", opts.debounce())

	changes := make(chan string, 64)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return forwardEvents(gctx, watcher, changes, logger.Warn)
	})
	g.Go(func() error {
		debounceChanges(gctx, changes, opts.debounce(), func(paths []string) {
			logger.Debug("re-running scenarios", "changed", strings.Join(paths, ","))
			if f.Format != "json" {
				fmt.Fprintf(f.Writer, "\n--- %d change(s), re-running ---\n", len(paths))
			}
			rerun()
		})
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "watch failed", err)
	}
	return nil
}

// forwardEvents sends the paths of relevant watcher events to changes
// until ctx is done or the watcher closes.
func forwardEvents(ctx context.Context, w *fsnotify.Watcher, changes chan<- string, warn func(msg string, args ...any)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevantChange(ev) {
				continue
			}
			select {
			case changes <- ev.Name:
			default:
				// The debouncer already has a re-run pending.
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			warn("watcher error", "error", err)
		}
	}
}

// relevantChange reports whether ev touches a scenario or golden file.
func relevantChange(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	switch strings.ToLower(filepath.Ext(ev.Name)) {
	case ".yaml", ".yml", ".golden":
		return true
	}
	return false
}

// debounceChanges collects paths from changes and calls fn with the
// distinct paths once no change arrived for window. It returns when ctx is
// done; a pending batch is dropped.
func debounceChanges(ctx context.Context, changes <-chan string, window time.Duration, fn func(paths []string)) {
	var (
		batch  []string
		seen   = make(map[string]bool)
		timer  *time.Timer
		timerC <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case p := <-changes:
			if !seen[p] {
				seen[p] = true
				batch = append(batch, p)
			}
			if timer == nil {
				timer = time.NewTimer(window)
				timerC = timer.C
			} else {
				timer.Reset(window)
			}

		case <-timerC:
			paths := batch
			batch = nil
			seen = make(map[string]bool)
			timer, timerC = nil, nil
			fn(paths)
		}
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
