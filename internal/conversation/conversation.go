// Package conversation derives conversation identifiers shared by the message
// ledger and the payment relay, so observers can correlate messages and
// payments between the same two participants.
package conversation

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Order returns the pair with the numerically lower address first.
func Order(a, b common.Address) (low, high common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) <= 0 {
		return a, b
	}
	return b, a
}

// ID is keccak256(low ‖ high) over the packed 20-byte addresses. It does not
// depend on argument order.
func ID(a, b common.Address) common.Hash {
	low, high := Order(a, b)
	return crypto.Keccak256Hash(low.Bytes(), high.Bytes())
}
