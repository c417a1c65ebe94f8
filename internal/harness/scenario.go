package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/easystate/internal/constraint"
)

// Scenario is one scripted run against a fresh runtime.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// State is the initial root record.
	State map[string]any `yaml:"state"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one of the action fields is set.
type Step struct {
	Observe   string `yaml:"observe,omitempty"`
	Unobserve string `yaml:"unobserve,omitempty"`
	Read      string `yaml:"read,omitempty"`
	Set       string `yaml:"set,omitempty"`
	Delete    string `yaml:"delete,omitempty"`
	Append    string `yaml:"append,omitempty"`
	Capture   string `yaml:"capture,omitempty"`
	Sync      []Step `yaml:"sync,omitempty"`
	Frame     int    `yaml:"frame,omitempty"`

	// Path is the target of observe and capture.
	Path string `yaml:"path,omitempty"`

	// Value is written by set.
	Value any `yaml:"value,omitempty"`

	// Values are appended by append.
	Values []any `yaml:"values,omitempty"`

	// Expect, when present, is compared with the value a read returns.
	Expect any `yaml:"expect,omitempty"`
}

// Step kinds.
const (
	StepObserve   = "observe"
	StepUnobserve = "unobserve"
	StepRead      = "read"
	StepSet       = "set"
	StepDelete    = "delete"
	StepAppend    = "append"
	StepCapture   = "capture"
	StepSync      = "sync"
	StepFrame     = "frame"
)

// Kinds returns the action kinds set on the step. A valid step has one.
func (s *Step) Kinds() []string {
	var kinds []string
	if s.Observe != "" {
		kinds = append(kinds, StepObserve)
	}
	if s.Unobserve != "" {
		kinds = append(kinds, StepUnobserve)
	}
	if s.Read != "" {
		kinds = append(kinds, StepRead)
	}
	if s.Set != "" {
		kinds = append(kinds, StepSet)
	}
	if s.Delete != "" {
		kinds = append(kinds, StepDelete)
	}
	if s.Append != "" {
		kinds = append(kinds, StepAppend)
	}
	if s.Capture != "" {
		kinds = append(kinds, StepCapture)
	}
	if len(s.Sync) > 0 {
		kinds = append(kinds, StepSync)
	}
	if s.Frame > 0 {
		kinds = append(kinds, StepFrame)
	}
	return kinds
}

// Kind returns the step's single action kind, or "" if it has none or
// several.
func (s *Step) Kind() string {
	kinds := s.Kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Observer names the observer (notify_count, notify_modes).
	Observer string `yaml:"observer,omitempty"`

	// Count is the expected number of calls (notify_count).
	Count int `yaml:"count,omitempty"`

	// Observers is the expected first-notification order (notify_order).
	Observers []string `yaml:"observers,omitempty"`

	// Modes is the expected flush-mode sequence (notify_modes).
	Modes []string `yaml:"modes,omitempty"`

	// Path locates the value (final_state, schema, revision_changed).
	Path string `yaml:"path,omitempty"`

	// Expect is the expected value (final_state).
	Expect any `yaml:"expect,omitempty"`

	// Constraint is a CUE expression (schema).
	Constraint string `yaml:"constraint,omitempty"`

	// Changed is the expected outcome (revision_changed).
	Changed *bool `yaml:"changed,omitempty"`
}

// Assertion type constants.
const (
	AssertNotifyCount     = "notify_count"
	AssertNotifyOrder     = "notify_order"
	AssertNotifyModes     = "notify_modes"
	AssertFinalState      = "final_state"
	AssertSchema          = "schema"
	AssertRevisionChanged = "revision_changed"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ScenarioFiles returns the .yaml and .yml files directly inside dir,
// sorted by name.
func ScenarioFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.State == nil {
		return fmt.Errorf("state is required (use {} for an empty record)")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if err := validateSteps("steps", s.Steps, false); err != nil {
		return err
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(prefix string, steps []Step, inSync bool) error {
	for i := range steps {
		step := &steps[i]
		where := fmt.Sprintf("%s[%d]", prefix, i)

		kinds := step.Kinds()
		switch len(kinds) {
		case 0:
			return fmt.Errorf("%s: no action (expected one of observe, unobserve, read, set, delete, append, capture, sync, frame)", where)
		case 1:
		default:
			return fmt.Errorf("%s: several actions %v", where, kinds)
		}

		switch kinds[0] {
		case StepSet, StepDelete:
			if strings.HasPrefix(step.Set+step.Delete, "$") && !strings.Contains(step.Set+step.Delete, ".") {
				return fmt.Errorf("%s: path must name a field, not a captured object", where)
			}
		case StepAppend:
			if len(step.Values) == 0 {
				return fmt.Errorf("%s: append requires values", where)
			}
		case StepCapture:
			if strings.HasPrefix(step.Capture, "$") || strings.Contains(step.Capture, ".") {
				return fmt.Errorf("%s: capture name %q must not contain '$' or '.'", where, step.Capture)
			}
		case StepSync:
			if err := validateSteps(where+".sync", step.Sync, true); err != nil {
				return err
			}
		case StepFrame:
			if inSync {
				return fmt.Errorf("%s: frame is not allowed inside sync", where)
			}
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertNotifyCount:
		if a.Observer == "" {
			return fmt.Errorf("assertions[%d]: observer is required for notify_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for notify_count", index)
		}
	case AssertNotifyOrder:
		if len(a.Observers) == 0 {
			return fmt.Errorf("assertions[%d]: observers list is required for notify_order", index)
		}
	case AssertNotifyModes:
		if a.Observer == "" {
			return fmt.Errorf("assertions[%d]: observer is required for notify_modes", index)
		}
		for _, m := range a.Modes {
			switch m {
			case "deferred", "batch", "immediate":
			default:
				return fmt.Errorf("assertions[%d]: unknown mode %q", index, m)
			}
		}
	case AssertFinalState:
		// A nil expect asserts null.
	case AssertSchema:
		if a.Constraint == "" {
			return fmt.Errorf("assertions[%d]: constraint is required for schema", index)
		}
		if _, err := constraint.Compile(a.Constraint); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertRevisionChanged:
		if a.Changed == nil {
			return fmt.Errorf("assertions[%d]: changed is required for revision_changed", index)
		}
		if strings.HasPrefix(a.Path, "$") {
			return fmt.Errorf("assertions[%d]: revision_changed path cannot start at a capture", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
