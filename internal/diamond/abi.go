package diamond

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/dispatch/internal/vm"
)

// Kind is the code kind proxies are deployed under.
const Kind = "diamond"

// Action is the kind of change a FacetCut applies.
type Action uint8

const (
	Add Action = iota
	Replace
	Remove
)

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Replace:
		return "replace"
	case Remove:
		return "remove"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// ParseAction maps "add", "replace" and "remove" to their Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "add":
		return Add, nil
	case "replace":
		return Replace, nil
	case "remove":
		return Remove, nil
	}
	return 0, fmt.Errorf("unknown cut action %q", s)
}

// FacetCut is one entry of a cut. Field order mirrors the ABI tuple.
type FacetCut struct {
	FacetAddress      common.Address `abi:"facetAddress"`
	Action            uint8          `abi:"action"`
	FunctionSelectors [][4]byte      `abi:"functionSelectors"`
}

// NewCut builds a FacetCut from typed selectors.
func NewCut(module common.Address, action Action, selectors []vm.Selector) FacetCut {
	sels := make([][4]byte, len(selectors))
	for i, s := range selectors {
		sels[i] = s
	}
	return FacetCut{FacetAddress: module, Action: uint8(action), FunctionSelectors: sels}
}

// Selectors returns the cut's selectors as vm.Selector values.
func (c FacetCut) Selectors() []vm.Selector {
	out := make([]vm.Selector, len(c.FunctionSelectors))
	for i, s := range c.FunctionSelectors {
		out[i] = s
	}
	return out
}

// Facet is one module and the selectors routed to it, as returned by facets().
type Facet struct {
	FacetAddress      common.Address `abi:"facetAddress"`
	FunctionSelectors [][4]byte      `abi:"functionSelectors"`
}

// ABI is the interface of the proxy's built-in operations.
var ABI = vm.MustParseABI(abiJSON)

const abiJSON = `[
	{"type":"constructor","stateMutability":"nonpayable",
	 "inputs":[{"name":"owner","type":"address"}]},
	{"type":"function","name":"diamondCut","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"cuts","type":"tuple[]","components":[
			{"name":"facetAddress","type":"address"},
			{"name":"action","type":"uint8"},
			{"name":"functionSelectors","type":"bytes4[]"}]},
		{"name":"init","type":"address"},
		{"name":"initData","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"facetAddress","stateMutability":"view",
	 "inputs":[{"name":"selector","type":"bytes4"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"facetAddresses","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"facetFunctionSelectors","stateMutability":"view",
	 "inputs":[{"name":"facet","type":"address"}],
	 "outputs":[{"name":"","type":"bytes4[]"}]},
	{"type":"function","name":"facets","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"tuple[]","components":[
		{"name":"facetAddress","type":"address"},
		{"name":"functionSelectors","type":"bytes4[]"}]}]},
	{"type":"function","name":"owner","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"transferOwnership","stateMutability":"nonpayable",
	 "inputs":[{"name":"newOwner","type":"address"}],"outputs":[]}
]`
