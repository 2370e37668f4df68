package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is an executable description of one behaviour: a deployment
// manifest, a flow of calls against it, and assertions over the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Manifest is the CUE deployment installed before the flow. Relative
	// paths resolve from the scenario file's directory.
	Manifest string `yaml:"manifest"`

	// CallPrefix prefixes the sequential call ids. Defaults to "call".
	CallPrefix string `yaml:"call_prefix,omitempty"`

	// Flow is executed in order against the installed deployment.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep submits one call or runs one view. Exactly one of Call and View
// is set.
type FlowStep struct {
	Call string `yaml:"call,omitempty"`
	View string `yaml:"view,omitempty"`

	// From defaults to the manifest owner; To defaults to the proxy.
	From  string   `yaml:"from,omitempty"`
	To    string   `yaml:"to,omitempty"`
	Args  []string `yaml:"args,omitempty"`
	Value string   `yaml:"value,omitempty"`

	// Advance moves the scenario clock forward before the step runs.
	Advance string `yaml:"advance,omitempty"`

	// Expect validates the step. Without it the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Save names the step's outputs, in order. Later args of the exact form
	// $name are replaced by the saved value.
	Save []string `yaml:"save,omitempty"`
}

// Method returns the called method name.
func (s FlowStep) Method() string {
	if s.View != "" {
		return s.View
	}
	return s.Call
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected fault code. Empty means the step succeeds.
	Error string `yaml:"error,omitempty"`

	// Output lists the expected decoded return values, formatted the way
	// the trace prints them. Nil skips the check.
	Output []string `yaml:"output,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Name is the event name (event_emitted, event_count).
	Name string `yaml:"name,omitempty"`

	// Emitter optionally restricts event_emitted to one address reference.
	Emitter string `yaml:"emitter,omitempty"`

	// Fields is a subset match on event fields (event_emitted).
	Fields map[string]any `yaml:"fields,omitempty"`

	// Names is the expected event order (event_order).
	Names []string `yaml:"names,omitempty"`

	// Count is the expected number of matching events (event_count).
	Count int `yaml:"count,omitempty"`

	// Account and Amount check a native balance (balance).
	Account string `yaml:"account,omitempty"`
	Amount  string `yaml:"amount,omitempty"`

	// Method, From, To, Args and Output describe a view whose decoded
	// outputs must equal Output (query).
	Method string   `yaml:"method,omitempty"`
	From   string   `yaml:"from,omitempty"`
	To     string   `yaml:"to,omitempty"`
	Args   []string `yaml:"args,omitempty"`
	Output []string `yaml:"output,omitempty"`

	// Table, Where and Expect check one persisted row (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventEmitted = "event_emitted"
	AssertEventOrder   = "event_order"
	AssertEventCount   = "event_count"
	AssertBalance      = "balance"
	AssertQuery        = "query"
	AssertFinalState   = "final_state"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads a scenario file, resolving the manifest
// path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Manifest != "" && !filepath.IsAbs(scenario.Manifest) && basePath != "" {
		scenario.Manifest = filepath.Join(basePath, scenario.Manifest)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Manifest == "" {
		return fmt.Errorf("manifest is required")
	}
	if _, err := os.Stat(s.Manifest); os.IsNotExist(err) {
		return fmt.Errorf("manifest not found: %s", s.Manifest)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if (step.Call == "") == (step.View == "") {
			return fmt.Errorf("flow[%d]: exactly one of call or view is required", i)
		}
		if step.View != "" && step.Value != "" {
			return fmt.Errorf("flow[%d]: a view cannot carry value", i)
		}
		for _, name := range step.Save {
			if name == "" || strings.ContainsAny(name, "$. ") {
				return fmt.Errorf("flow[%d]: invalid save name %q", i, name)
			}
		}
		if step.Advance != "" {
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("flow[%d]: advance: %w", i, err)
			}
			if d < 0 {
				return fmt.Errorf("flow[%d]: advance must not be negative", i)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventEmitted:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for event_emitted", index)
		}
	case AssertEventOrder:
		if len(a.Names) == 0 {
			return fmt.Errorf("assertions[%d]: names list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertBalance:
		if a.Account == "" || a.Amount == "" {
			return fmt.Errorf("assertions[%d]: account and amount are required for balance", index)
		}
	case AssertQuery:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for query", index)
		}
		if a.Output == nil {
			return fmt.Errorf("assertions[%d]: output is required for query", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
