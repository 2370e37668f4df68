package diamond

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/dispatch/internal/state"
)

// Namespace is the proxy's own storage region. Module namespaces must differ.
var Namespace = state.NewNamespace("dispatch.proxy.storage.v1")

const (
	fieldOwner  = 0
	fieldRoutes = 1 // RLP-encoded RouteTable
)

// layout is the proxy's view of its namespace.
type layout struct {
	s state.Storage
}

func (l layout) owner() common.Address {
	return l.s.Addr(Namespace.Field(fieldOwner))
}

func (l layout) setOwner(a common.Address) {
	l.s.SetAddr(Namespace.Field(fieldOwner), a)
}

func (l layout) routes() (*RouteTable, error) {
	t, err := DecodeRouteTable(l.s.Bytes(Namespace.Field(fieldRoutes)))
	if err != nil {
		return nil, fmt.Errorf("load routes of %s: %w", l.s.Address().Hex(), err)
	}
	return t, nil
}

func (l layout) setRoutes(t *RouteTable) error {
	data, err := t.Encode()
	if err != nil {
		return fmt.Errorf("encode routes: %w", err)
	}
	l.s.SetBytes(Namespace.Field(fieldRoutes), data)
	return nil
}
