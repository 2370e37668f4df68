package payrelay

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/state"
)

// Namespace is the relay's private storage region.
var Namespace = state.NewNamespace("dispatch.payment-relay.storage.v1")

const (
	fieldInitialized = iota
	fieldOwner
	fieldFeeBps
	fieldAccumulated // token → amount
)

type layout struct {
	s state.Storage
}

func (l layout) initialized() bool { return l.s.Bool(Namespace.Field(fieldInitialized)) }
func (l layout) setInitialized()   { l.s.SetBool(Namespace.Field(fieldInitialized), true) }

func (l layout) owner() common.Address     { return l.s.Addr(Namespace.Field(fieldOwner)) }
func (l layout) setOwner(a common.Address) { l.s.SetAddr(Namespace.Field(fieldOwner), a) }

func (l layout) feeBps() uint64     { return l.s.Uint64(Namespace.Field(fieldFeeBps)) }
func (l layout) setFeeBps(v uint64) { l.s.SetUint64(Namespace.Field(fieldFeeBps), v) }

func (l layout) accumulated(token common.Address) *uint256.Int {
	return l.s.Uint(Namespace.Entry(fieldAccumulated, token.Bytes()))
}

func (l layout) setAccumulated(token common.Address, v *uint256.Int) {
	l.s.SetUint(Namespace.Entry(fieldAccumulated, token.Bytes()), v)
}
