package token

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/vm"
)

// Client drives a deployed token.
type Client struct {
	*vm.BoundContract
}

// NewClient binds the token at address.
func NewClient(e *vm.Engine, address common.Address) *Client {
	return &Client{BoundContract: vm.Bind(e, address, ABI)}
}

// Deploy creates a token and mints supply to from.
func Deploy(ctx context.Context, e *vm.Engine, from common.Address, name, symbol string, decimals uint8, supply *uint256.Int) (*Client, error) {
	args, err := ABI.Pack("", name, symbol, decimals, vm.Big(supply))
	if err != nil {
		return nil, fmt.Errorf("pack constructor: %w", err)
	}
	r, err := e.Deploy(ctx, from, Kind, args, nil)
	if err != nil {
		return nil, err
	}
	return NewClient(e, r.Created), nil
}

// Approve lets spender pull up to amount from from.
func (c *Client) Approve(ctx context.Context, from, spender common.Address, amount *uint256.Int) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "approve", spender, vm.Big(amount))
}

// Transfer moves amount from from to to.
func (c *Client) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "transfer", to, vm.Big(amount))
}

// BalanceOf reads a balance.
func (c *Client) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	out, err := c.Call(ctx, common.Address{}, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return vm.Amount(out[0]), nil
}

// Allowance reads how much spender may still pull from owner.
func (c *Client) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	out, err := c.Call(ctx, common.Address{}, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return vm.Amount(out[0]), nil
}
