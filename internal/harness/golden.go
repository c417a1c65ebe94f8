package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/easystate/internal/canonical"
)

// TraceSnapshot is the golden-file view of a run: the notifications in call
// order and the final state. Revisions and flush records are left out so
// goldens survive changes to revision numbering.
type TraceSnapshot struct {
	Scenario   string       `json:"scenario"`
	Trace      []TraceEvent `json:"trace"`
	FinalState any          `json:"final_state"`
}

// toCanonicalMap converts the snapshot to plain values for canonical.Marshal.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		trace[i] = map[string]any{
			"seq":      ev.Seq,
			"observer": ev.Observer,
			"mode":     ev.Mode,
			"state":    ev.State,
		}
	}
	return map[string]any{
		"scenario":    s.Scenario,
		"trace":       trace,
		"final_state": s.FinalState,
	}
}

// GoldenBytes returns the golden encoding of a result: canonical JSON
// followed by a newline.
func GoldenBytes(result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		Scenario:   result.Scenario,
		Trace:      result.Trace,
		FinalState: result.State,
	}
	data, err := canonical.Marshal(snapshot.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...RunOption) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the golden file for name.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := GoldenBytes(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)

	return nil
}
