package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Namespace is a module-private storage region rooted at keccak256(name).
//
// A namespace name is chosen once at design time and never changes; renaming
// it orphans every value already stored under the old base.
type Namespace struct {
	name string
	base common.Hash
}

// NewNamespace derives the region for the given unique name.
func NewNamespace(name string) Namespace {
	return Namespace{name: name, base: crypto.Keccak256Hash([]byte(name))}
}

// Name returns the namespace identifier.
func (n Namespace) Name() string { return n.name }

// Base returns the root slot of the region.
func (n Namespace) Base() common.Hash { return n.base }

// Field returns the slot of the i-th scalar field of the region.
func (n Namespace) Field(i uint64) common.Hash {
	return Offset(n.base, i)
}

// Entry returns the root slot of a mapping entry stored in field i.
func (n Namespace) Entry(field uint64, key []byte) common.Hash {
	return MappingSlot(n.Field(field), key)
}

// Offset returns slot+i, wrapping modulo 2^256.
func Offset(slot common.Hash, i uint64) common.Hash {
	var v uint256.Int
	v.SetBytes32(slot[:])
	v.AddUint64(&v, i)
	return common.Hash(v.Bytes32())
}

// MappingSlot returns keccak256(pad32(key) ‖ slot), the location of a mapping
// entry whose mapping lives at slot. Keys longer than 32 bytes are hashed
// first.
func MappingSlot(slot common.Hash, key []byte) common.Hash {
	if len(key) > common.HashLength {
		key = crypto.Keccak256(key)
	}
	return crypto.Keccak256Hash(common.LeftPadBytes(key, common.HashLength), slot[:])
}
