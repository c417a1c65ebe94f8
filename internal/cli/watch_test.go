package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is a bytes.Buffer safe for one writer goroutine and a
// polling reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRelevantChange(t *testing.T) {
	tests := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "a.yaml", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "a.YML", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "golden/a.golden", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "a.yaml", Op: fsnotify.Rename}, true},
		{fsnotify.Event{Name: "a.yaml", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "a.yaml.swp", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "notes.txt", Op: fsnotify.Write}, false},
	}

	for _, tt := range tests {
		t.Run(tt.ev.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, relevantChange(tt.ev))
		})
	}
}

func TestDebounceChanges_CoalescesBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string)
	batches := make(chan []string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		debounceChanges(ctx, changes, 20*time.Millisecond, func(paths []string) {
			batches <- paths
		})
	}()

	changes <- "a.yaml"
	changes <- "b.yaml"
	changes <- "a.yaml"

	select {
	case got := <-batches:
		assert.Equal(t, []string{"a.yaml", "b.yaml"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch after debounce window")
	}

	changes <- "c.yaml"
	select {
	case got := <-batches:
		assert.Equal(t, []string{"c.yaml"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no second batch")
	}

	cancel()
	<-done
	assert.Empty(t, batches)
}

func TestDebounceChanges_CancelDropsPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	changes := make(chan string, 1)
	called := false
	changes <- "a.yaml"

	done := make(chan struct{})
	go func() {
		defer close(done)
		debounceChanges(ctx, changes, time.Hour, func([]string) { called = true })
	}()

	// Give the debouncer a moment to pick up the change, then stop it.
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done
	assert.False(t, called)
}

func TestWatchOptions_Debounce(t *testing.T) {
	opts := &WatchOptions{TestOptions: TestOptions{RootOptions: testRootOptions("text")}}
	assert.Equal(t, 200*time.Millisecond, opts.debounce())

	opts.Config.WatchDebounce = time.Second
	assert.Equal(t, time.Second, opts.debounce())

	opts.Debounce = 5 * time.Millisecond
	assert.Equal(t, 5*time.Millisecond, opts.debounce())
}

func TestRunWatch_MissingDir(t *testing.T) {
	opts := &WatchOptions{TestOptions: TestOptions{RootOptions: testRootOptions("text")}}
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})

	err := runWatch(context.Background(), opts, "/nonexistent/scenarios", cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunWatch_RerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counter.yaml", counterYAML("counter", 1))

	opts := &WatchOptions{
		TestOptions: TestOptions{RootOptions: testRootOptions("text")},
		Debounce:    10 * time.Millisecond,
	}
	out := &lockedBuffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- runWatch(ctx, opts, dir, cmd) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "1 passed, 0 failed, 1 total")
	}, 5*time.Second, 10*time.Millisecond)

	writeScenario(t, dir, "second.yaml", counterYAML("second", 2))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "2 passed, 0 failed, 2 total")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "re-running")

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
