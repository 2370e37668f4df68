package diamond

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/vm"
)

// Proxy is the dispatch proxy code. It is stateless; every deployment keeps
// its owner and route table in its own storage.
type Proxy struct {
	builtins *vm.Dispatcher
}

// New creates the proxy code.
func New() *Proxy {
	p := &Proxy{}
	p.builtins = vm.NewDispatcher(ABI, map[string]vm.Handler{
		"diamondCut":             p.diamondCut,
		"facetAddress":           p.facetAddress,
		"facetAddresses":         p.facetAddresses,
		"facetFunctionSelectors": p.facetFunctionSelectors,
		"facets":                 p.facets,
		"owner":                  p.owner,
		"transferOwnership":      p.transferOwnership,
	})
	return p
}

// Builtins returns the selectors the proxy answers itself. They can never be
// routed to a module.
func (p *Proxy) Builtins() []vm.Selector {
	return p.builtins.Selectors()
}

// Construct sets the initial owner: the ABI-encoded address argument, or the
// deployer when no argument is given.
func (p *Proxy) Construct(f *vm.Frame, args []byte) error {
	owner := f.Caller()
	if len(args) > 0 {
		vals, err := ABI.Constructor.Inputs.Unpack(args)
		if err != nil {
			return fault.InvalidArgument("decode constructor arguments: %v", err)
		}
		owner = vals[0].(common.Address)
	}
	if owner == (common.Address{}) {
		return fault.InvalidArgument("proxy owner must be non-zero")
	}
	layout{f.Storage()}.setOwner(owner)
	f.Emit("OwnershipTransferred", ir.Object{
		"previousOwner": ir.Address(common.Address{}),
		"newOwner":      ir.Address(owner),
	})
	return nil
}

// Run answers built-ins and delegates everything else through the route table.
func (p *Proxy) Run(f *vm.Frame, input []byte) ([]byte, error) {
	sel := vm.SelectorOf(input)
	if len(input) >= 4 && p.builtins.Has(sel) {
		return p.builtins.Run(f, input)
	}

	l := layout{f.Storage()}
	routes, err := l.routes()
	if err != nil {
		return nil, err
	}
	module, ok := routes.Route(sel)
	if !ok || len(input) < 4 {
		return nil, fault.NotFound("no module routed for selector %s", sel).With("selector", sel.String())
	}
	return f.DelegateCall(module, input, &vm.Authority{Owner: l.owner()})
}

func (p *Proxy) diamondCut(f *vm.Frame, args []any) ([]any, error) {
	l := layout{f.Storage()}
	auth := vm.Authority{Owner: l.owner()}
	if err := auth.Authorize(f.Caller()); err != nil {
		return nil, err
	}

	cuts := *abi.ConvertType(args[0], new([]FacetCut)).(*[]FacetCut)
	initTarget := args[1].(common.Address)
	initData := args[2].([]byte)

	live, err := l.routes()
	if err != nil {
		return nil, err
	}
	staged, err := live.Stage(cuts, StageRules{
		Reserved: p.builtins.Has,
		HasCode:  f.HasCode,
	})
	if err != nil {
		return nil, err
	}
	if err := l.setRoutes(staged); err != nil {
		return nil, err
	}

	if initTarget != (common.Address{}) {
		if !f.HasCode(initTarget) {
			return nil, fault.InvalidArgument("init target %s has no code", initTarget.Hex())
		}
		// Runs against the staged table; a failure reverts the whole cut.
		if _, err := f.DelegateCall(initTarget, initData, &auth); err != nil {
			return nil, err
		}
	} else if len(initData) > 0 {
		return nil, fault.InvalidArgument("init data given without an init target")
	}

	entries := make(ir.Array, len(cuts))
	for i, c := range cuts {
		sels := make(ir.Array, len(c.FunctionSelectors))
		for j, s := range c.Selectors() {
			sels[j] = ir.String(s.String())
		}
		entries[i] = ir.Object{
			"module":    ir.Address(c.FacetAddress),
			"action":    ir.String(Action(c.Action).String()),
			"selectors": sels,
		}
	}
	f.Emit("DiamondCut", ir.Object{
		"cuts":     entries,
		"init":     ir.Address(initTarget),
		"initData": ir.Hex(initData),
	})
	return nil, nil
}

func (p *Proxy) facetAddress(f *vm.Frame, args []any) ([]any, error) {
	sel := vm.Selector(args[0].([4]byte))
	routes, err := layout{f.Storage()}.routes()
	if err != nil {
		return nil, err
	}
	module, ok := routes.Route(sel)
	if !ok {
		return nil, fault.NotFound("no module routed for selector %s", sel).With("selector", sel.String())
	}
	return []any{module}, nil
}

func (p *Proxy) facetAddresses(f *vm.Frame, _ []any) ([]any, error) {
	routes, err := layout{f.Storage()}.routes()
	if err != nil {
		return nil, err
	}
	return []any{routes.Modules()}, nil
}

func (p *Proxy) facetFunctionSelectors(f *vm.Frame, args []any) ([]any, error) {
	routes, err := layout{f.Storage()}.routes()
	if err != nil {
		return nil, err
	}
	sels := routes.SelectorsOf(args[0].(common.Address))
	out := make([][4]byte, len(sels))
	for i, s := range sels {
		out[i] = s
	}
	return []any{out}, nil
}

func (p *Proxy) facets(f *vm.Frame, _ []any) ([]any, error) {
	routes, err := layout{f.Storage()}.routes()
	if err != nil {
		return nil, err
	}
	var out []Facet
	for _, rec := range routes.Records() {
		sels := make([][4]byte, len(rec.Selectors))
		for i, s := range rec.Selectors {
			sels[i] = s
		}
		out = append(out, Facet{FacetAddress: rec.Module, FunctionSelectors: sels})
	}
	if out == nil {
		out = []Facet{}
	}
	return []any{out}, nil
}

func (p *Proxy) owner(f *vm.Frame, _ []any) ([]any, error) {
	return []any{layout{f.Storage()}.owner()}, nil
}

func (p *Proxy) transferOwnership(f *vm.Frame, args []any) ([]any, error) {
	l := layout{f.Storage()}
	prev := l.owner()
	if err := (vm.Authority{Owner: prev}).Authorize(f.Caller()); err != nil {
		return nil, err
	}
	next := args[0].(common.Address)
	if next == (common.Address{}) {
		return nil, fault.InvalidArgument("new owner must be non-zero")
	}
	l.setOwner(next)
	f.Emit("OwnershipTransferred", ir.Object{
		"previousOwner": ir.Address(prev),
		"newOwner":      ir.Address(next),
	})
	return nil, nil
}
