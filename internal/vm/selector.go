package vm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selector is the 4-byte routing key of a callable operation: the first four
// bytes of keccak256 of its canonical signature.
type Selector [4]byte

// SelectorFromSignature hashes a canonical signature such as
// "sendMessage(bytes32,address,bytes)".
func SelectorFromSignature(sig string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(sig))[:4])
	return s
}

// SelectorOf returns the selector prefix of call data. Call data shorter than
// four bytes yields the zero selector.
func SelectorOf(input []byte) Selector {
	var s Selector
	if len(input) >= 4 {
		copy(s[:], input[:4])
	}
	return s
}

// ParseSelector parses a 0x-prefixed 8-hex-digit selector.
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	b, err := hexutil.Decode(s)
	if err != nil {
		return sel, fmt.Errorf("parse selector %q: %w", s, err)
	}
	if len(b) != 4 {
		return sel, fmt.Errorf("parse selector %q: want 4 bytes, got %d", s, len(b))
	}
	copy(sel[:], b)
	return sel, nil
}

// String renders the selector as 0x-prefixed hex.
func (s Selector) String() string {
	return hexutil.Encode(s[:])
}

// Bytes returns the selector as a byte slice.
func (s Selector) Bytes() []byte {
	return s[:]
}
