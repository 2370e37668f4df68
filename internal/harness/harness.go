package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/manifest"
	"github.com/roach88/dispatch/internal/store"
	"github.com/roach88/dispatch/internal/testutil"
	"github.com/roach88/dispatch/internal/vm"
)

// DefaultCallPrefix prefixes call ids when a scenario names none.
const DefaultCallPrefix = "call"

// Harness executes one scenario against a private engine.
type Harness struct {
	engine     *vm.Engine
	clock      *testutil.DeterministicTime
	deployment *manifest.Deployment
	owner      common.Address
	resolve    vm.AddressResolver
	vars       map[string]string
	logger     *slog.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	golden       bool
	updateGolden bool
}

// WithLogger routes engine and step logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithGoldenFiles makes RunSuite compare each trace with
// golden/<file>.golden next to the scenario, when that snapshot exists.
// With update set, snapshots are written instead of compared.
func WithGoldenFiles(update bool) Option {
	return func(o *options) {
		o.golden = true
		o.updateGolden = update
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a stopped clock at
// testutil.Epoch and sequential call ids, so identical scenarios produce
// identical traces.
//
// Execution flow:
//  1. Open an in-memory store and start an engine persisting into it
//  2. Install the scenario's manifest
//  3. Execute flow steps, validating expect clauses
//  4. Evaluate assertions against the trace and final state
//
// An error is returned only when the scenario itself cannot run (bad
// manifest, unknown method, unparsable argument). Behavioural mismatches are
// reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := manifest.Load(scenario.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	prefix := scenario.CallPrefix
	if prefix == "" {
		prefix = DefaultCallPrefix
	}
	clock := testutil.NewDeterministicTime(testutil.Epoch)
	eng := vm.New(manifest.Registry(),
		vm.WithTimeSource(clock.Now),
		vm.WithCallIDGenerator(vm.NewSequentialGenerator(prefix)),
		vm.WithSink(st),
		vm.WithLogger(o.logger),
	)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	d, err := manifest.Install(runCtx, eng, m, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to install manifest: %w", err)
	}
	owner, err := vm.ResolveAddress(m.Owner)
	if err != nil {
		return nil, fmt.Errorf("manifest owner: %w", err)
	}

	h := &Harness{
		engine:     eng,
		clock:      clock,
		deployment: d,
		owner:      owner,
		resolve:    d.Resolver(nil),
		vars:       make(map[string]string),
		logger:     o.logger,
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(runCtx, i, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Method(), err)
		}
	}

	actx := &AssertionContext{
		Ctx:        runCtx,
		Store:      st,
		Engine:     eng,
		Deployment: d,
		Owner:      owner,
		Resolve:    h.resolve,
		Expand:     h.expand,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one flow step, appends it to the trace and checks its
// expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, step FlowStep, result *Result) error {
	if step.Advance != "" {
		dur, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(dur)
	}

	from := h.owner
	if step.From != "" {
		var err error
		if from, err = h.resolve(step.From); err != nil {
			return fmt.Errorf("from: %w", err)
		}
	}
	to := h.deployment.Proxy
	if step.To != "" {
		var err error
		if to, err = h.resolve(step.To); err != nil {
			return fmt.Errorf("to: %w", err)
		}
	}
	value, err := parseAmount(step.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}

	args := h.expand(step.Args)
	entry := TraceEntry{
		Step:   i,
		Method: step.Method(),
		From:   from.Hex(),
		To:     to.Hex(),
		Args:   args,
	}
	if !value.IsZero() {
		entry.Value = value.Dec()
	}

	var (
		out     []any
		events  []ir.Event
		execErr error
	)
	if step.View != "" {
		entry.Type = TraceView
		out, execErr = h.deployment.Query(ctx, h.engine, from, to, step.View, args, h.resolve)
		entry.Status = "ok"
		if execErr != nil {
			entry.Status = "reverted"
		}
	} else {
		entry.Type = TraceCall
		var r *vm.Receipt
		r, out, execErr = h.deployment.Invoke(ctx, h.engine, from, to, value, step.Call, args, h.resolve)
		if r == nil {
			return execErr
		}
		entry.CallID = r.CallID
		entry.Seq = r.Seq
		entry.Status = string(r.Status)
		events = r.Events
		if r.Committed() && execErr != nil {
			return execErr
		}
	}
	if execErr != nil && fault.CodeOf(execErr) == "" {
		return execErr
	}

	entry.ErrorCode = string(fault.CodeOf(execErr))
	entry.Output = formatOutputs(out)
	result.AddCall(entry)
	result.AddEvents(i, events)

	if execErr == nil {
		if len(step.Save) > len(entry.Output) {
			return fmt.Errorf("save: %d names for %d outputs", len(step.Save), len(entry.Output))
		}
		for j, name := range step.Save {
			h.vars[name] = entry.Output[j]
		}
	}

	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	if want != entry.ErrorCode {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected %s, got %s",
			i, step.Method(), describeOutcome(want, nil), describeOutcome(entry.ErrorCode, execErr)))
	} else if step.Expect != nil && step.Expect.Output != nil && execErr == nil {
		if !outputsMatch(step.Expect.Output, entry.Output, h.resolve) {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected output %v, got %v",
				i, step.Method(), step.Expect.Output, entry.Output))
		}
	}

	h.logger.Debug("flow step completed",
		"step", i,
		"method", step.Method(),
		"call_id", entry.CallID,
		"status", entry.Status,
		"error_code", entry.ErrorCode,
	)
	return nil
}

// expand substitutes saved outputs for $name arguments.
func (h *Harness) expand(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		if v, ok := h.vars[strings.TrimPrefix(a, "$")]; ok && strings.HasPrefix(a, "$") {
			a = v
		}
		out[i] = a
	}
	return out
}

func describeOutcome(code string, err error) string {
	if code == "" {
		return "success"
	}
	if err != nil {
		return fmt.Sprintf("%s (%v)", code, err)
	}
	return code
}

func formatOutputs(out []any) []string {
	if len(out) == 0 {
		return nil
	}
	s := make([]string, len(out))
	for i, v := range out {
		s[i] = vm.FormatValue(v)
	}
	return s
}

// parseAmount reads a decimal wei amount; underscores are allowed.
func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(strings.ReplaceAll(s, "_", ""))
}
