package vm

import (
	"fmt"
	"sort"
)

// Contract is executable module code. Implementations hold no state of their
// own: everything persistent goes through the Frame's storage.
type Contract interface {
	Run(f *Frame, input []byte) ([]byte, error)
}

// Receiver is implemented by contracts that accept plain value transfers
// (empty call data). Contracts without it reject value-bearing plain calls.
type Receiver interface {
	Receive(f *Frame) error
}

// Constructor is implemented by contracts that run setup code on creation.
type Constructor interface {
	Construct(f *Frame, args []byte) error
}

// Registry maps code kinds to their implementation. A kind is the name
// persisted for an address; the registry must be identical across restarts.
type Registry struct {
	kinds map[string]Contract
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Contract)}
}

// Register installs code under kind. Registering a kind twice panics.
func (r *Registry) Register(kind string, c Contract) *Registry {
	if kind == "" {
		panic("vm: empty code kind")
	}
	if _, dup := r.kinds[kind]; dup {
		panic(fmt.Sprintf("vm: code kind %q registered twice", kind))
	}
	r.kinds[kind] = c
	return r
}

// Lookup returns the code registered under kind.
func (r *Registry) Lookup(kind string) (Contract, bool) {
	c, ok := r.kinds[kind]
	return c, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
