package vm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BoundContract is a typed client for a deployed address: it packs method
// calls with the ABI and submits them to the engine.
type BoundContract struct {
	engine  *Engine
	abi     abi.ABI
	address common.Address
}

// Bind creates a client for the contract at address.
func Bind(e *Engine, address common.Address, contractABI abi.ABI) *BoundContract {
	return &BoundContract{engine: e, abi: contractABI, address: address}
}

// Address returns the bound address.
func (b *BoundContract) Address() common.Address { return b.address }

// ABI returns the bound ABI.
func (b *BoundContract) ABI() abi.ABI { return b.abi }

// Pack encodes a method call.
func (b *BoundContract) Pack(method string, args ...any) ([]byte, error) {
	input, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return input, nil
}

// Transact submits a state-changing call. The error is the revert reason
// when the call fails.
func (b *BoundContract) Transact(ctx context.Context, from common.Address, value *uint256.Int, method string, args ...any) (*Receipt, error) {
	input, err := b.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	return b.engine.Call(ctx, Message{From: from, To: b.address, Value: value, Input: input})
}

// Call runs a read-only call and decodes the outputs.
func (b *BoundContract) Call(ctx context.Context, from common.Address, method string, args ...any) ([]any, error) {
	input, err := b.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := b.engine.View(ctx, Message{From: from, To: b.address, Input: input})
	if err != nil {
		return nil, err
	}
	res, err := b.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return res, nil
}
