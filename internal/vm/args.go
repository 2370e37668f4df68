package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Big converts an amount for ABI packing.
func Big(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

// Amount converts a decoded uint256 argument. Decoded uintN values wider
// than 64 bits arrive as *big.Int and always fit.
func Amount(arg any) *uint256.Int {
	switch v := arg.(type) {
	case *big.Int:
		u, _ := uint256.FromBig(v)
		return u
	case uint64:
		return uint256.NewInt(v)
	default:
		return new(uint256.Int)
	}
}

// Hash converts a decoded bytes32 argument.
func Hash(arg any) common.Hash {
	if b, ok := arg.([32]byte); ok {
		return common.Hash(b)
	}
	return common.Hash{}
}
