package cli

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/roach88/dispatch/internal/diamond"
	"github.com/roach88/dispatch/internal/manifest"
	"github.com/roach88/dispatch/internal/vm"
)

// SelectorInfo names one selector.
type SelectorInfo struct {
	Selector string `json:"selector"`
	Method   string `json:"method,omitempty"`
}

// ModuleRoutes lists the selectors routed to one module.
type ModuleRoutes struct {
	Module    string         `json:"module"`
	Name      string         `json:"name,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Selectors []SelectorInfo `json:"selectors"`
}

// RoutesResult is the live route table of the proxy.
type RoutesResult struct {
	Proxy   string         `json:"proxy"`
	Owner   string         `json:"owner"`
	Modules []ModuleRoutes `json:"modules"`
}

// WriteText renders the table for terminals.
func (r RoutesResult) WriteText(w io.Writer) {
	fmt.Fprintf(w, "proxy %s (owner %s)\n", r.Proxy, r.Owner)
	for _, m := range r.Modules {
		label := m.Module
		if m.Name != "" {
			label = fmt.Sprintf("%s %s (%s)", m.Module, m.Name, m.Kind)
		}
		fmt.Fprintf(w, "%s\n", label)
		writeSelectors(w, m.Selectors)
	}
}

// SelectorsResult lists the routable selectors of a code kind.
type SelectorsResult struct {
	Kind      string         `json:"kind"`
	Selectors []SelectorInfo `json:"selectors"`
}

// WriteText renders the list for terminals.
func (r SelectorsResult) WriteText(w io.Writer) {
	fmt.Fprintln(w, r.Kind)
	writeSelectors(w, r.Selectors)
}

func writeSelectors(w io.Writer, sels []SelectorInfo) {
	for _, s := range sels {
		fmt.Fprintf(w, "  %s  %s\n", s.Selector, s.Method)
	}
}

// describeSelectors names selectors using the ABI of kind.
func describeSelectors(kind string, sels []vm.Selector) []SelectorInfo {
	k, _ := manifest.Lookup(kind)
	out := make([]SelectorInfo, len(sels))
	for i, sel := range sels {
		out[i] = SelectorInfo{Selector: sel.String()}
		if m, err := k.ABI.MethodById(sel[:]); err == nil {
			out[i].Method = m.Sig
		}
	}
	return out
}

// NewRoutesCommand creates the routes command.
func NewRoutesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the proxy's route table",
		Long: `Show every module the proxy routes to and the selectors mapped to it,
read live through the proxy's introspection methods.

Example:
  dispatch routes --db ./dispatch.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutes(rootOpts, cmd)
		},
	}
}

func runRoutes(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer s.Close()

	d, err := s.requireDeployment()
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeNotDeployed, err.Error(), nil)
	}

	proxy := diamond.NewClient(s.engine, d.Proxy)
	owner, err := proxy.Owner(ctx)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "read owner", err)
	}
	modules, err := proxy.FacetAddresses(ctx)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "read modules", err)
	}

	names := make(map[common.Address]manifest.Installed, len(d.Modules))
	for _, m := range d.Modules {
		names[m.Address] = m
	}

	result := RoutesResult{Proxy: d.Proxy.Hex(), Owner: owner.Hex(), Modules: []ModuleRoutes{}}
	for _, addr := range modules {
		sels, err := proxy.FacetFunctionSelectors(ctx, addr)
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeGeneric, "read selectors", err)
		}
		kind, err := s.engine.CodeKind(ctx, addr)
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeGeneric, "read code kind", err)
		}
		in := names[addr]
		result.Modules = append(result.Modules, ModuleRoutes{
			Module:    addr.Hex(),
			Name:      in.Name,
			Kind:      kind,
			Selectors: describeSelectors(kind, sels),
		})
	}
	return f.Success(result)
}

// NewSelectorsCommand creates the selectors command.
func NewSelectorsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "selectors <kind>",
		Short: "List the selectors a module kind routes",
		Long: `List the selectors a module kind installs by default, with their
method signatures. No database is needed.

Examples:
  dispatch selectors message-ledger
  dispatch selectors payment-relay --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelectors(rootOpts, args[0], cmd)
		},
	}
}

func runSelectors(opts *RootOptions, kind string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	k, ok := manifest.Lookup(kind)
	if !ok || !k.Module {
		var kinds []string
		for _, c := range manifest.Catalog() {
			if c.Module {
				kinds = append(kinds, c.Name)
			}
		}
		return f.fail(ExitCommandError, ErrCodeBadArgs,
			fmt.Sprintf("unknown module kind %q (known: %v)", kind, kinds), nil)
	}
	return f.Success(SelectorsResult{Kind: k.Name, Selectors: describeSelectors(k.Name, k.Routable())})
}
