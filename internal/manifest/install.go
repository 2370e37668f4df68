package manifest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/diamond"
	"github.com/roach88/dispatch/internal/token"
	"github.com/roach88/dispatch/internal/vm"
)

// Label prefixes under which a deployment is remembered.
const (
	LabelProxy  = "proxy"
	LabelModule = "module."
	LabelToken  = "token."
)

// Installed is a deployed address with its code kind.
type Installed struct {
	Name    string
	Kind    string
	Address common.Address
}

// Deployment is the set of addresses produced by Install.
type Deployment struct {
	Proxy   common.Address
	Modules []Installed
	Tokens  []Installed
}

// Labels names every address of the deployment.
func (d *Deployment) Labels() map[string]common.Address {
	out := map[string]common.Address{LabelProxy: d.Proxy}
	for _, m := range d.Modules {
		out[LabelModule+m.Name] = m.Address
	}
	for _, t := range d.Tokens {
		out[LabelToken+t.Name] = t.Address
	}
	return out
}

// FromLabels rebuilds a deployment from stored labels. kindOf reports the
// code kind at an address.
func FromLabels(labels map[string]common.Address, kindOf func(common.Address) string) *Deployment {
	d := &Deployment{Proxy: labels[LabelProxy]}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		addr := labels[name]
		switch {
		case strings.HasPrefix(name, LabelModule):
			d.Modules = append(d.Modules, Installed{Name: strings.TrimPrefix(name, LabelModule), Kind: kindOf(addr), Address: addr})
		case strings.HasPrefix(name, LabelToken):
			d.Tokens = append(d.Tokens, Installed{Name: strings.TrimPrefix(name, LabelToken), Kind: kindOf(addr), Address: addr})
		}
	}
	return d
}

// Module returns the named module.
func (d *Deployment) Module(name string) (Installed, bool) {
	for _, m := range d.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return Installed{}, false
}

// ProxyKinds lists the ABIs answered at the proxy address: the built-ins
// first, then each installed module kind.
func (d *Deployment) ProxyKinds() []string {
	kinds := []string{diamond.Kind}
	seen := map[string]bool{diamond.Kind: true}
	for _, m := range d.Modules {
		if !seen[m.Kind] {
			seen[m.Kind] = true
			kinds = append(kinds, m.Kind)
		}
	}
	return kinds
}

// Resolver extends next with $proxy, $module.<name> and $token.<name>.
func (d *Deployment) Resolver(next vm.AddressResolver) vm.AddressResolver {
	if next == nil {
		next = vm.ResolveAddress
	}
	labels := d.Labels()
	return func(ref string) (common.Address, error) {
		if !strings.HasPrefix(ref, "$") {
			return next(ref)
		}
		addr, ok := labels[strings.TrimPrefix(ref, "$")]
		if !ok {
			return common.Address{}, fmt.Errorf("unknown reference %s", ref)
		}
		return addr, nil
	}
}

// kindsAt lists the ABIs to search for methods called at addr.
func (d *Deployment) kindsAt(addr common.Address) []string {
	if addr == d.Proxy {
		return d.ProxyKinds()
	}
	for _, set := range [][]Installed{d.Modules, d.Tokens} {
		for _, in := range set {
			if in.Address == addr {
				return []string{in.Kind}
			}
		}
	}
	return nil
}

// Method resolves a method name called at addr.
func (d *Deployment) Method(addr common.Address, name string) (abi.Method, error) {
	kinds := d.kindsAt(addr)
	if len(kinds) == 0 {
		return abi.Method{}, fmt.Errorf("%s is not part of the deployment", addr.Hex())
	}
	m, _, err := FindMethod(kinds, name)
	return m, err
}

// Encode packs a call of method at addr from textual arguments.
func (d *Deployment) Encode(addr common.Address, method string, args []string, resolve vm.AddressResolver) (abi.Method, []byte, error) {
	m, err := d.Method(addr, method)
	if err != nil {
		return m, nil, err
	}
	vals, err := vm.ParseArgs(m.Inputs, args, d.Resolver(resolve))
	if err != nil {
		return m, nil, fmt.Errorf("%s: %w", method, err)
	}
	packed, err := m.Inputs.Pack(vals...)
	if err != nil {
		return m, nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return m, append(append([]byte{}, m.ID...), packed...), nil
}

// Invoke submits a state-changing call and decodes its outputs.
func (d *Deployment) Invoke(ctx context.Context, e *vm.Engine, from, to common.Address, value *uint256.Int, method string, args []string, resolve vm.AddressResolver) (*vm.Receipt, []any, error) {
	m, input, err := d.Encode(to, method, args, resolve)
	if err != nil {
		return nil, nil, err
	}
	r, err := e.Call(ctx, vm.Message{From: from, To: to, Value: value, Input: input})
	if err != nil {
		return r, nil, err
	}
	out, err := m.Outputs.Unpack(r.Output)
	if err != nil {
		return r, nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return r, out, nil
}

// Query runs a read-only call and decodes its outputs.
func (d *Deployment) Query(ctx context.Context, e *vm.Engine, from, to common.Address, method string, args []string, resolve vm.AddressResolver) ([]any, error) {
	m, input, err := d.Encode(to, method, args, resolve)
	if err != nil {
		return nil, err
	}
	raw, err := e.View(ctx, vm.Message{From: from, To: to, Input: input})
	if err != nil {
		return nil, err
	}
	out, err := m.Outputs.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// Install replays the manifest against e. Every step is its own unit of
// work; the first failure stops the install and is returned wrapped with the
// step that raised it.
func Install(ctx context.Context, e *vm.Engine, m *Manifest, resolve vm.AddressResolver) (*Deployment, error) {
	if resolve == nil {
		resolve = vm.ResolveAddress
	}
	deployer, err := resolve(m.Deployer)
	if err != nil {
		return nil, fmt.Errorf("deployer: %w", err)
	}
	owner, err := resolve(m.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}

	for _, f := range m.Fund {
		addr, err := resolve(f.Account)
		if err != nil {
			return nil, fmt.Errorf("fund %s: %w", f.Account, err)
		}
		if _, err := e.Fund(ctx, addr, f.Amount); err != nil {
			return nil, fmt.Errorf("fund %s: %w", f.Account, err)
		}
	}

	proxy, _, err := diamond.Deploy(ctx, e, deployer, owner)
	if err != nil {
		return nil, fmt.Errorf("deploy proxy: %w", err)
	}
	d := &Deployment{Proxy: proxy.Address()}

	for _, t := range m.Tokens {
		holder := deployer
		if t.Holder != "" {
			if holder, err = resolve(t.Holder); err != nil {
				return nil, fmt.Errorf("token %s holder: %w", t.Name, err)
			}
		}
		tok, err := token.Deploy(ctx, e, holder, t.Title, t.Symbol, t.Decimals, t.Supply)
		if err != nil {
			return nil, fmt.Errorf("deploy token %s: %w", t.Name, err)
		}
		d.Tokens = append(d.Tokens, Installed{Name: t.Name, Kind: token.Kind, Address: tok.Address()})
	}

	for _, spec := range m.Modules {
		in, err := installModule(ctx, e, proxy, d, deployer, owner, spec, resolve)
		if err != nil {
			return nil, fmt.Errorf("install module %s: %w", spec.Name, err)
		}
		d.Modules = append(d.Modules, in)
	}

	for i, c := range m.Setup {
		if err := runSetup(ctx, e, d, owner, c, resolve); err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, c.Method, err)
		}
	}
	return d, nil
}

func installModule(ctx context.Context, e *vm.Engine, proxy *diamond.Client, d *Deployment, deployer, owner common.Address, spec ModuleSpec, resolve vm.AddressResolver) (Installed, error) {
	kind, ok := Lookup(spec.Kind)
	if !ok || !kind.Module {
		return Installed{}, fmt.Errorf("%q is not a module kind", spec.Kind)
	}
	sels := kind.Routable()
	if len(spec.Selectors) > 0 {
		var err error
		if sels, err = kind.Selectors(spec.Selectors); err != nil {
			return Installed{}, err
		}
	}

	r, err := e.Deploy(ctx, deployer, kind.Name, nil, nil)
	if err != nil {
		return Installed{}, fmt.Errorf("deploy: %w", err)
	}
	module := r.Created
	if err := claimStandalone(ctx, e, kind, module, deployer, owner); err != nil {
		return Installed{}, err
	}

	var initTarget common.Address
	var initData []byte
	if spec.Init {
		raw := spec.InitArgs
		if raw == nil {
			raw = []string{owner.Hex()}
		}
		m, ok := kind.ABI.Methods["init"]
		if !ok {
			return Installed{}, fmt.Errorf("%s has no init method", kind.Name)
		}
		args, err := vm.ParseArgs(m.Inputs, raw, d.Resolver(resolve))
		if err != nil {
			return Installed{}, fmt.Errorf("init: %w", err)
		}
		if initData, err = kind.ABI.Pack("init", args...); err != nil {
			return Installed{}, fmt.Errorf("pack init: %w", err)
		}
		initTarget = module
	}

	cut := diamond.NewCut(module, diamond.Add, sels)
	if _, err := proxy.Cut(ctx, owner, []diamond.FacetCut{cut}, initTarget, initData); err != nil {
		return Installed{}, fmt.Errorf("cut: %w", err)
	}
	return Installed{Name: spec.Name, Kind: kind.Name, Address: module}, nil
}

// claimStandalone initializes the module at its own address for owner. The
// standalone instance keeps its own state and would otherwise accept init
// from anyone.
func claimStandalone(ctx context.Context, e *vm.Engine, kind Kind, module, deployer, owner common.Address) error {
	input, err := kind.ABI.Pack("init", owner)
	if err != nil {
		return fmt.Errorf("pack standalone init: %w", err)
	}
	if _, err := e.Call(ctx, vm.Message{From: deployer, To: module, Input: input}); err != nil {
		return fmt.Errorf("standalone init: %w", err)
	}
	return nil
}

func runSetup(ctx context.Context, e *vm.Engine, d *Deployment, owner common.Address, c Call, resolve vm.AddressResolver) error {
	res := d.Resolver(resolve)
	from := owner
	if c.From != "" {
		var err error
		if from, err = res(c.From); err != nil {
			return err
		}
	}
	to := d.Proxy
	if c.To != "" {
		var err error
		if to, err = res(c.To); err != nil {
			return err
		}
	}
	_, _, err := d.Invoke(ctx, e, from, to, c.Value, c.Method, c.Args, resolve)
	return err
}
