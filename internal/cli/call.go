package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/vm"
)

// CallOptions holds flags shared by call and view.
type CallOptions struct {
	*RootOptions
	From  string
	To    string
	Value string
}

// CallResult is the outcome of a call or view.
type CallResult struct {
	CallID string      `json:"call_id,omitempty"`
	Seq    int64       `json:"seq,omitempty"`
	Method string      `json:"method"`
	Status string      `json:"status"`
	Output []string    `json:"output"`
	Events []EventInfo `json:"events,omitempty"`
}

// EventInfo is one emitted event.
type EventInfo struct {
	Seq     int64     `json:"seq"`
	CallID  string    `json:"call_id"`
	Emitter string    `json:"emitter"`
	Name    string    `json:"name"`
	Fields  ir.Object `json:"fields"`
}

// WriteText renders the result for terminals.
func (r CallResult) WriteText(w io.Writer) {
	if r.CallID != "" {
		fmt.Fprintf(w, "%s %s [%s] %s\n", r.Status, r.Method, r.CallID, statusMark(r.Status))
	}
	for _, out := range r.Output {
		fmt.Fprintln(w, out)
	}
	for _, ev := range r.Events {
		ev.WriteText(w)
	}
}

// WriteText renders one event line.
func (e EventInfo) WriteText(w io.Writer) {
	keys := e.Fields.SortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, formatField(e.Fields[k]))
	}
	fmt.Fprintf(w, "  #%d %s %s\n", e.Seq, e.Name, strings.Join(parts, " "))
}

func formatField(v ir.Value) string {
	switch val := v.(type) {
	case ir.String:
		return string(val)
	case ir.Int:
		return fmt.Sprint(int64(val))
	case ir.Bool:
		return fmt.Sprint(bool(val))
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "?"
	}
	return string(data)
}

func statusMark(status string) string {
	if status == string(ir.CallCommitted) {
		return "✓"
	}
	return "✗"
}

func eventInfos(events []ir.Event) []EventInfo {
	out := make([]EventInfo, len(events))
	for i, ev := range events {
		out[i] = EventInfo{Seq: ev.Seq, CallID: ev.CallID, Emitter: ev.Emitter, Name: ev.Name, Fields: ev.Fields}
	}
	return out
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <method> [args...]",
		Short: "Submit a state-changing call",
		Long: `Submit a state-changing call through the proxy (or --to another
deployed address). Arguments are textual ABI values: decimal or 0x numbers,
0x bytes, and accounts as dev names, hex addresses or $proxy, $module.<name>,
$token.<name> references.

Exit codes:
  0 - Call committed
  1 - Call reverted (the fault code is printed)
  2 - Command error (no deployment, bad arguments, etc.)

Examples:
  dispatch call createConversation bob 0xaa01 0xbb02 --from alice
  dispatch call sendMessage 0x5c1e... bob 0x68656c6c6f --from alice --value 100000000000000
  dispatch call setRelayer relayer --from owner`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(opts, args[0], args[1:], cmd)
		},
	}
	addCallFlags(cmd, opts, true)
	return cmd
}

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "view <method> [args...]",
		Short: "Run a read-only call",
		Long: `Run a call and discard its effects. Nothing is recorded.

Examples:
  dispatch view fundsOf alice
  dispatch view getMyKey 0x5c1e... --from bob
  dispatch view owner --to '$module.ledger'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(opts, args[0], args[1:], cmd)
		},
	}
	addCallFlags(cmd, opts, false)
	return cmd
}

func addCallFlags(cmd *cobra.Command, opts *CallOptions, payable bool) {
	cmd.Flags().StringVar(&opts.From, "from", "", "sender (default DISPATCH_FROM)")
	cmd.Flags().StringVar(&opts.To, "to", "$proxy", "target address or reference")
	if payable {
		cmd.Flags().StringVar(&opts.Value, "value", "0", "attached native value in wei")
	}
}

// target resolves sender and target.
func (o *CallOptions) target(r vm.AddressResolver) (from, to common.Address, err error) {
	sender := o.From
	if sender == "" {
		sender = o.Config.From
	}
	if sender == "" {
		sender = "deployer"
	}
	if from, err = r(sender); err != nil {
		return from, to, fmt.Errorf("from: %w", err)
	}
	if to, err = r(o.To); err != nil {
		return from, to, fmt.Errorf("to: %w", err)
	}
	return from, to, nil
}

func runCall(opts *CallOptions, method string, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	value, err := parseWei(opts.Value)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeBadArgs, "invalid --value", err)
	}

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer s.Close()

	d, err := s.requireDeployment()
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeNotDeployed, err.Error(), nil)
	}
	resolve := s.resolver()
	from, to, err := opts.target(resolve)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeBadArgs, "invalid account", err)
	}
	if _, _, err := d.Encode(to, method, args, resolve); err != nil {
		return f.fail(ExitCommandError, ErrCodeBadArgs, "cannot encode call", err)
	}

	f.VerboseLog("call %s from %s to %s value %s", method, from.Hex(), to.Hex(), value.Dec())
	r, out, err := d.Invoke(ctx, s.engine, from, to, value, method, args, resolve)
	if r == nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "call not executed", err)
	}
	if !r.Committed() {
		if outErr := f.Fault(err); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("%s reverted with %s", method, fault.CodeOf(err)), err)
	}
	if err != nil {
		return f.fail(ExitFailure, ErrCodeGeneric, "decode output", err)
	}

	return f.Success(CallResult{
		CallID: r.CallID,
		Seq:    r.Seq,
		Method: method,
		Status: string(r.Status),
		Output: formatOutputs(out),
		Events: eventInfos(r.Events),
	})
}

func runView(opts *CallOptions, method string, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer s.Close()

	d, err := s.requireDeployment()
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeNotDeployed, err.Error(), nil)
	}
	resolve := s.resolver()
	from, to, err := opts.target(resolve)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeBadArgs, "invalid account", err)
	}
	if _, _, err := d.Encode(to, method, args, resolve); err != nil {
		return f.fail(ExitCommandError, ErrCodeBadArgs, "cannot encode call", err)
	}

	out, err := d.Query(ctx, s.engine, from, to, method, args, resolve)
	if err != nil {
		if fault.CodeOf(err) == "" {
			return f.fail(ExitCommandError, ErrCodeGeneric, "view failed", err)
		}
		if outErr := f.Fault(err); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("%s reverted with %s", method, fault.CodeOf(err)), err)
	}
	return f.Success(CallResult{Method: method, Status: "ok", Output: formatOutputs(out)})
}

func formatOutputs(out []any) []string {
	s := make([]string, len(out))
	for i, v := range out {
		s[i] = vm.FormatValue(v)
	}
	return s
}

// parseWei reads a decimal wei amount; underscores are allowed.
func parseWei(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(strings.ReplaceAll(s, "_", ""))
}
