package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/manifest"
	"github.com/roach88/dispatch/internal/state"
	"github.com/roach88/dispatch/internal/store"
	"github.com/roach88/dispatch/internal/vm"
)

// Divergence is one difference between a recorded unit of work and its
// replay.
type Divergence struct {
	CallID   string `json:"call_id"`
	Seq      int64  `json:"seq"`
	Field    string `json:"field"`
	Recorded string `json:"recorded"`
	Replayed string `json:"replayed"`
}

// ReplayResult summarizes a replay of the call log.
type ReplayResult struct {
	Calls         int          `json:"calls"`
	Events        int          `json:"events"`
	Deterministic bool         `json:"deterministic"`
	Divergences   []Divergence `json:"divergences,omitempty"`
}

// WriteText renders the result for terminals.
func (r ReplayResult) WriteText(w io.Writer) {
	if r.Deterministic {
		fmt.Fprintf(w, "✓ replayed %d call(s), %d event(s): deterministic\n", r.Calls, r.Events)
		return
	}
	fmt.Fprintf(w, "✗ replayed %d call(s), %d event(s): %d divergence(s)\n", r.Calls, r.Events, len(r.Divergences))
	for _, d := range r.Divergences {
		fmt.Fprintf(w, "  %s (seq %d) %s: recorded %q, replayed %q\n", d.CallID, d.Seq, d.Field, d.Recorded, d.Replayed)
	}
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Re-execute the call log and verify determinism",
		Long: `Re-execute every recorded unit of work, in seq order, on an empty world
with the recorded call ids and timestamps. Each unit's status, error code,
output, created address and events must match the record.

Exit codes:
  0 - The replay reproduced the log
  1 - The replay diverged
  2 - Command error (database not readable, etc.)

Examples:
  dispatch replay --db ./dispatch.db
  dispatch replay --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd)
		},
	}
}

func runReplay(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	persisted := state.New()
	if err := st.LoadState(ctx, persisted); err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to load state", err)
	}
	calls, err := st.ReadCalls(ctx, 0, 0)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to read calls", err)
	}
	events, err := st.ReadEvents(ctx, store.EventFilter{})
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to read events", err)
	}

	result, err := replayCalls(ctx, opts.logger(cmd.ErrOrStderr()), calls, events, persisted.GetCode)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "replay failed", err)
	}
	if err := f.Success(result); err != nil {
		return err
	}
	if !result.Deterministic {
		return NewExitError(ExitFailure, fmt.Sprintf("replay diverged in %d place(s)", len(result.Divergences)))
	}
	return nil
}

// replayCursor feeds the engine the recorded identity of the unit being
// replayed. It is written before each submission and read on the Run
// goroutine; the submission channel orders the two.
type replayCursor struct {
	now time.Time
	id  string
}

func (c *replayCursor) Generate() string { return c.id }

// replayCalls re-executes calls on a fresh engine and compares the outcome
// with the recorded one. kindOf reports the code kind persisted at an
// address; it names what committed deploys installed.
func replayCalls(ctx context.Context, logger *slog.Logger, calls []ir.CallRecord, events []ir.Event, kindOf func(common.Address) string) (ReplayResult, error) {
	recorded := make(map[string][]string)
	for _, ev := range events {
		recorded[ev.CallID] = append(recorded[ev.CallID], ev.ID)
	}

	cursor := &replayCursor{}
	e := vm.New(manifest.Registry(),
		vm.WithTimeSource(func() time.Time { return cursor.now }),
		vm.WithCallIDGenerator(cursor),
		vm.WithLogger(logger),
	)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	result := ReplayResult{Calls: len(calls), Events: len(events)}
	for _, rec := range calls {
		cursor.now = time.Unix(rec.Timestamp, 0).UTC()
		cursor.id = rec.ID

		r, err := replayOne(ctx, e, rec, kindOf)
		if r == nil {
			if err == nil {
				err = errors.New("no receipt")
			}
			return result, fmt.Errorf("call %s: %w", rec.ID, err)
		}
		result.Divergences = append(result.Divergences, compareReplay(rec, r, recorded[rec.ID])...)
	}
	result.Deterministic = len(result.Divergences) == 0
	return result, nil
}

func replayOne(ctx context.Context, e *vm.Engine, rec ir.CallRecord, kindOf func(common.Address) string) (*vm.Receipt, error) {
	value, err := parseWei(rec.Value)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	input, err := hexutil.Decode(rec.Input)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	to := common.HexToAddress(rec.To)

	switch rec.Kind {
	case "fund":
		return e.Fund(ctx, to, value)
	case "deploy":
		// A reverted deploy leaves no code behind to name its kind. The
		// empty kind reverts in its place and keeps the seq numbering.
		var kind string
		if rec.Status == ir.CallCommitted {
			kind = kindOf(to)
		}
		return e.Deploy(ctx, common.HexToAddress(rec.From), kind, input, value)
	case "call":
		return e.Call(ctx, vm.Message{From: common.HexToAddress(rec.From), To: to, Value: value, Input: input})
	}
	return nil, fmt.Errorf("unknown kind %q", rec.Kind)
}

func compareReplay(rec ir.CallRecord, r *vm.Receipt, recordedEvents []string) []Divergence {
	var out []Divergence
	diff := func(field, recorded, replayed string) {
		if recorded != replayed {
			out = append(out, Divergence{CallID: rec.ID, Seq: rec.Seq, Field: field, Recorded: recorded, Replayed: replayed})
		}
	}

	diff("seq", fmt.Sprint(rec.Seq), fmt.Sprint(r.Seq))
	diff("status", string(rec.Status), string(r.Status))
	placeholder := rec.Kind == "deploy" && rec.Status == ir.CallReverted
	if !placeholder {
		diff("error_code", rec.ErrorCode, string(fault.CodeOf(r.Err)))
	}
	if !r.Committed() {
		return out
	}

	var output string
	if len(r.Output) > 0 {
		output = hexutil.Encode(r.Output)
	}
	diff("output", rec.Output, output)
	if rec.Kind == "deploy" {
		diff("created", common.HexToAddress(rec.To).Hex(), r.Created.Hex())
	}

	diff("events", fmt.Sprint(len(recordedEvents)), fmt.Sprint(len(r.Events)))
	for i, ev := range r.Events {
		if i < len(recordedEvents) {
			diff(fmt.Sprintf("event[%d] %s", i, ev.Name), recordedEvents[i], ev.ID)
		}
	}
	return out
}
