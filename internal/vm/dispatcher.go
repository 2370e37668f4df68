package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/roach88/dispatch/internal/fault"
)

// Handler implements one ABI method. args are the decoded inputs in
// declaration order; the returned values are packed as the method outputs.
type Handler func(f *Frame, args []any) ([]any, error)

type method struct {
	abi    abi.Method
	handle Handler
}

// Dispatcher routes call data to handlers by selector and does the ABI
// decoding and encoding around them.
type Dispatcher struct {
	abi     abi.ABI
	methods map[Selector]method
}

// NewDispatcher binds handlers to methods of contractABI by method name.
// A handler naming a method missing from the ABI panics.
func NewDispatcher(contractABI abi.ABI, handlers map[string]Handler) *Dispatcher {
	d := &Dispatcher{abi: contractABI, methods: make(map[Selector]method, len(handlers))}
	for name, h := range handlers {
		m, ok := contractABI.Methods[name]
		if !ok {
			panic(fmt.Sprintf("vm: handler for unknown method %q", name))
		}
		var sel Selector
		copy(sel[:], m.ID)
		d.methods[sel] = method{abi: m, handle: h}
	}
	return d
}

// ABI returns the contract ABI.
func (d *Dispatcher) ABI() abi.ABI { return d.abi }

// Has reports whether sel is handled.
func (d *Dispatcher) Has(sel Selector) bool {
	_, ok := d.methods[sel]
	return ok
}

// Selectors returns every handled selector in byte order.
func (d *Dispatcher) Selectors() []Selector {
	out := make([]Selector, 0, len(d.methods))
	for sel := range d.methods {
		out = append(out, sel)
	}
	SortSelectors(out)
	return out
}

// Run decodes input, enforces payability and invokes the handler.
func (d *Dispatcher) Run(f *Frame, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fault.InvalidArgument("call data shorter than a selector")
	}
	sel := SelectorOf(input)
	m, ok := d.methods[sel]
	if !ok {
		return nil, fault.NotFound("no handler for selector %s", sel)
	}
	if !m.abi.IsPayable() && f.Value().Sign() > 0 {
		return nil, fault.InvalidArgument("%s does not accept value", m.abi.Name)
	}
	args, err := m.abi.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fault.InvalidArgument("decode %s arguments: %v", m.abi.Name, err)
	}
	outs, err := m.handle(f, args)
	if err != nil {
		return nil, err
	}
	ret, err := m.abi.Outputs.Pack(outs...)
	if err != nil {
		return nil, fmt.Errorf("encode %s results: %w", m.abi.Name, err)
	}
	return ret, nil
}

// SortSelectors orders selectors by their bytes.
func SortSelectors(sels []Selector) {
	sort.Slice(sels, func(i, j int) bool {
		a, b := sels[i], sels[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}

// MustParseABI parses a JSON ABI definition, panicking on error. Used for
// the ABIs compiled into module packages.
func MustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("vm: parse ABI: %v", err))
	}
	return parsed
}
