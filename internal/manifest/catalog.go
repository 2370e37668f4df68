package manifest

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/roach88/dispatch/internal/diamond"
	"github.com/roach88/dispatch/internal/ledger"
	"github.com/roach88/dispatch/internal/payrelay"
	"github.com/roach88/dispatch/internal/token"
	"github.com/roach88/dispatch/internal/vm"
)

// Kind is an installable code kind.
type Kind struct {
	Name string
	Code vm.Contract
	ABI  abi.ABI
	// Module marks kinds that can be routed behind a proxy.
	Module bool
}

type routable interface {
	Routable() []vm.Selector
}

// Routable returns the selectors a module installs by default.
func (k Kind) Routable() []vm.Selector {
	if r, ok := k.Code.(routable); ok {
		return r.Routable()
	}
	return nil
}

// Catalog returns every known code kind, sorted by name.
func Catalog() []Kind {
	kinds := []Kind{
		{Name: diamond.Kind, Code: diamond.New(), ABI: diamond.ABI},
		{Name: ledger.Kind, Code: ledger.New(), ABI: ledger.ABI, Module: true},
		{Name: payrelay.Kind, Code: payrelay.New(), ABI: payrelay.ABI, Module: true},
		{Name: token.Kind, Code: token.New(), ABI: token.ABI},
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Name < kinds[j].Name })
	return kinds
}

// Lookup finds a kind by name.
func Lookup(name string) (Kind, bool) {
	for _, k := range Catalog() {
		if k.Name == name {
			return k, true
		}
	}
	return Kind{}, false
}

// Registry registers every catalog kind. Engines that load persisted state
// must use it so stored code kinds resolve.
func Registry() *vm.Registry {
	reg := vm.NewRegistry()
	for _, k := range Catalog() {
		reg.Register(k.Name, k.Code)
	}
	return reg
}

// Selectors resolves method names or 0x selectors against a kind's ABI.
func (k Kind) Selectors(names []string) ([]vm.Selector, error) {
	out := make([]vm.Selector, 0, len(names))
	for _, n := range names {
		if m, ok := k.ABI.Methods[n]; ok {
			out = append(out, vm.Selector(m.ID))
			continue
		}
		sel, err := vm.ParseSelector(n)
		if err != nil {
			return nil, fmt.Errorf("%s has no method %q", k.Name, n)
		}
		out = append(out, sel)
	}
	return out, nil
}

// FindMethod looks a method up in the ABIs of the given kinds, in order.
// The proxy's built-ins come first when diamond.Kind is listed.
func FindMethod(kinds []string, name string) (abi.Method, string, error) {
	for _, kn := range kinds {
		k, ok := Lookup(kn)
		if !ok {
			continue
		}
		if m, ok := k.ABI.Methods[name]; ok {
			return m, k.Name, nil
		}
	}
	return abi.Method{}, "", fmt.Errorf("no method %q in %v", name, kinds)
}
