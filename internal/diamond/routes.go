package diamond

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/vm"
)

// ModuleRecord is a module and the selectors routed to it, in installation
// order.
type ModuleRecord struct {
	Module    common.Address
	Selectors []vm.Selector
}

// RouteTable maps selectors to modules and keeps the reverse index.
//
// INVARIANTS:
//   - a selector maps to at most one module
//   - every selector in a ModuleRecord resolves back to that module
//   - no module record is empty; removing a module's last selector drops it
type RouteTable struct {
	modules    []ModuleRecord
	bySelector map[vm.Selector]common.Address
}

// NewRouteTable creates an empty table.
func NewRouteTable() *RouteTable {
	return &RouteTable{bySelector: make(map[vm.Selector]common.Address)}
}

// Route returns the module a selector is mapped to.
func (t *RouteTable) Route(sel vm.Selector) (common.Address, bool) {
	m, ok := t.bySelector[sel]
	return m, ok
}

// Modules returns the installed modules in installation order.
func (t *RouteTable) Modules() []common.Address {
	out := make([]common.Address, len(t.modules))
	for i, rec := range t.modules {
		out[i] = rec.Module
	}
	return out
}

// SelectorsOf returns the selectors routed to module, or nil.
func (t *RouteTable) SelectorsOf(module common.Address) []vm.Selector {
	if i := t.indexOf(module); i >= 0 {
		return append([]vm.Selector(nil), t.modules[i].Selectors...)
	}
	return nil
}

// Records returns a copy of every module record.
func (t *RouteTable) Records() []ModuleRecord {
	out := make([]ModuleRecord, len(t.modules))
	for i, rec := range t.modules {
		out[i] = ModuleRecord{Module: rec.Module, Selectors: append([]vm.Selector(nil), rec.Selectors...)}
	}
	return out
}

// Len returns the number of routed selectors.
func (t *RouteTable) Len() int {
	return len(t.bySelector)
}

// Clone returns an independent deep copy.
func (t *RouteTable) Clone() *RouteTable {
	c := &RouteTable{
		modules:    t.Records(),
		bySelector: make(map[vm.Selector]common.Address, len(t.bySelector)),
	}
	for sel, m := range t.bySelector {
		c.bySelector[sel] = m
	}
	return c
}

func (t *RouteTable) indexOf(module common.Address) int {
	for i, rec := range t.modules {
		if rec.Module == module {
			return i
		}
	}
	return -1
}

func (t *RouteTable) add(module common.Address, sel vm.Selector) {
	i := t.indexOf(module)
	if i < 0 {
		t.modules = append(t.modules, ModuleRecord{Module: module})
		i = len(t.modules) - 1
	}
	t.modules[i].Selectors = append(t.modules[i].Selectors, sel)
	t.bySelector[sel] = module
}

func (t *RouteTable) remove(sel vm.Selector) {
	module, ok := t.bySelector[sel]
	if !ok {
		return
	}
	delete(t.bySelector, sel)

	i := t.indexOf(module)
	sels := t.modules[i].Selectors
	for j, s := range sels {
		if s == sel {
			t.modules[i].Selectors = append(sels[:j:j], sels[j+1:]...)
			break
		}
	}
	if len(t.modules[i].Selectors) == 0 {
		t.modules = append(t.modules[:i:i], t.modules[i+1:]...)
	}
}

// StageRules are the proxy-specific checks applied while staging a cut.
type StageRules struct {
	// Reserved reports selectors the proxy answers itself.
	Reserved func(vm.Selector) bool
	// HasCode reports whether an address holds module code.
	HasCode func(common.Address) bool
}

// Stage applies cuts in order to a copy of t and returns the copy. t is never
// modified; the first invalid change aborts the whole stage.
func (t *RouteTable) Stage(cuts []FacetCut, rules StageRules) (*RouteTable, error) {
	staged := t.Clone()
	for i, cut := range cuts {
		if err := staged.apply(cut, rules); err != nil {
			return nil, atCut(err, i)
		}
	}
	return staged, nil
}

// atCut records the index of the failing cut on the fault inside err.
func atCut(err error, i int) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		fe.With("cut", fmt.Sprint(i))
	}
	return err
}

func (t *RouteTable) apply(cut FacetCut, rules StageRules) error {
	action := Action(cut.Action)
	module := cut.FacetAddress
	sels := cut.Selectors()
	if len(sels) == 0 {
		return fault.InvalidArgument("%s cut has no selectors", action)
	}

	switch action {
	case Add, Replace:
		if module == (common.Address{}) {
			return fault.InvalidArgument("%s cut needs a module address", action)
		}
		if rules.HasCode != nil && !rules.HasCode(module) {
			return fault.InvalidArgument("module %s has no code", module.Hex()).With("module", module.Hex())
		}
	case Remove:
		if module != (common.Address{}) {
			return fault.InvalidArgument("remove cut must use the zero module address").With("module", module.Hex())
		}
	default:
		return fault.InvalidArgument("unknown cut action %d", cut.Action)
	}

	for _, sel := range sels {
		if rules.Reserved != nil && rules.Reserved(sel) {
			return fault.InvalidArgument("selector %s is a proxy built-in", sel).With("selector", sel.String())
		}
		current, mapped := t.bySelector[sel]
		switch action {
		case Add:
			if mapped {
				return fault.InvalidArgument("selector %s already routed to %s", sel, current.Hex()).With("selector", sel.String())
			}
			t.add(module, sel)
		case Replace:
			if !mapped {
				return fault.NotFound("selector %s is not routed", sel).With("selector", sel.String())
			}
			if current == module {
				return fault.InvalidArgument("selector %s already routed to %s", sel, module.Hex()).With("selector", sel.String())
			}
			t.remove(sel)
			t.add(module, sel)
		case Remove:
			if !mapped {
				return fault.NotFound("selector %s is not routed", sel).With("selector", sel.String())
			}
			t.remove(sel)
		}
	}
	return nil
}

// Check verifies the forward and reverse indexes agree.
func (t *RouteTable) Check() error {
	count := 0
	for _, rec := range t.modules {
		if len(rec.Selectors) == 0 {
			return fmt.Errorf("module %s has no selectors", rec.Module.Hex())
		}
		for _, sel := range rec.Selectors {
			if t.bySelector[sel] != rec.Module {
				return fmt.Errorf("selector %s listed under %s but routed to %s", sel, rec.Module.Hex(), t.bySelector[sel].Hex())
			}
			count++
		}
	}
	if count != len(t.bySelector) {
		return fmt.Errorf("reverse index holds %d selectors, forward index %d", count, len(t.bySelector))
	}
	return nil
}

// encoded is the RLP shape of a table.
type encoded struct {
	Modules []ModuleRecord
}

// Encode writes the module records in installation order.
func (t *RouteTable) Encode() ([]byte, error) {
	if len(t.modules) == 0 {
		return nil, nil
	}
	return rlp.EncodeToBytes(encoded{Modules: t.modules})
}

// DecodeRouteTable rebuilds a table from its RLP encoding. Empty input is the
// empty table.
func DecodeRouteTable(data []byte) (*RouteTable, error) {
	t := NewRouteTable()
	if len(data) == 0 {
		return t, nil
	}
	var enc encoded
	if err := rlp.Decode(bytes.NewReader(data), &enc); err != nil {
		return nil, fmt.Errorf("decode route table: %w", err)
	}
	for _, rec := range enc.Modules {
		for _, sel := range rec.Selectors {
			t.add(rec.Module, sel)
		}
	}
	if err := t.Check(); err != nil {
		return nil, fmt.Errorf("decode route table: %w", err)
	}
	return t, nil
}
