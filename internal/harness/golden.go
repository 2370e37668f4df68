package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/dispatch/internal/ir"
)

// TraceSnapshot is the golden form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEntry `json:"trace"`
}

// toCanonical converts the snapshot to IR values so it serializes through
// ir.MarshalCanonical.
func (s *TraceSnapshot) toCanonical() ir.Object {
	trace := make(ir.Array, len(s.Trace))
	for i, e := range s.Trace {
		obj := ir.Object{
			"type": ir.String(e.Type),
			"step": ir.Int(e.Step),
		}
		put := func(key, val string) {
			if val != "" {
				obj[key] = ir.String(val)
			}
		}
		put("call_id", e.CallID)
		put("method", e.Method)
		put("from", e.From)
		put("to", e.To)
		put("value", e.Value)
		put("status", e.Status)
		put("error_code", e.ErrorCode)
		put("emitter", e.Emitter)
		put("name", e.Name)
		if len(e.Args) > 0 {
			obj["args"] = stringArray(e.Args)
		}
		if len(e.Output) > 0 {
			obj["output"] = stringArray(e.Output)
		}
		if e.Seq != 0 {
			obj["seq"] = ir.Int(e.Seq)
		}
		if e.Fields != nil {
			obj["fields"] = e.Fields
		}
		trace[i] = obj
	}
	return ir.Object{
		"scenario_name": ir.String(s.ScenarioName),
		"trace":         trace,
	}
}

func stringArray(ss []string) ir.Array {
	arr := make(ir.Array, len(ss))
	for i, s := range ss {
		arr[i] = ir.String(s)
	}
	return arr
}

// MarshalTrace renders a result's trace as canonical JSON.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return ir.MarshalCanonical(snapshot.toCanonical())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
