package payrelay

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/vm"
)

// Client drives a relay, either standalone or through a proxy address.
type Client struct {
	*vm.BoundContract
}

// NewClient binds the relay interface to address.
func NewClient(e *vm.Engine, address common.Address) *Client {
	return &Client{BoundContract: vm.Bind(e, address, ABI)}
}

// Init initializes a standalone relay.
func (c *Client) Init(ctx context.Context, from, owner common.Address) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "init", owner)
}

// ComputeConversationID asks the relay for the id of a pair.
func (c *Client) ComputeConversationID(ctx context.Context, a, b common.Address) (common.Hash, error) {
	out, err := c.Call(ctx, common.Address{}, "computeConversationId", a, b)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(out[0].([32]byte)), nil
}

// SendNative pays value to p.Recipient. p.Sender pays; p.Amount is ignored in
// favour of value.
func (c *Client) SendNative(ctx context.Context, p Payment, value *uint256.Int) (*vm.Receipt, error) {
	return c.Transact(ctx, p.Sender, value, "sendNative",
		p.ConversationID, p.Recipient, p.ContentRef, p.ContentHash, p.Mode, p.ClientMsgID)
}

// SendERC20 pays p.Amount of p.Token; the relay must hold an allowance.
func (c *Client) SendERC20(ctx context.Context, p Payment) (*vm.Receipt, error) {
	return c.Transact(ctx, p.Sender, nil, "sendERC20",
		p.ConversationID, p.Recipient, p.Token, vm.Big(p.Amount), p.ContentRef, p.ContentHash, p.Mode, p.ClientMsgID)
}

// SetTransactionFee changes the fee in basis points.
func (c *Client) SetTransactionFee(ctx context.Context, from common.Address, bps uint64) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "setTransactionFee", vm.Big(uint256.NewInt(bps)))
}

// WithdrawFees sends the accumulated fees of token to the owner.
func (c *Client) WithdrawFees(ctx context.Context, from, token common.Address) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "withdrawFees", token)
}

// TransactionFeePercent reads the fee in basis points.
func (c *Client) TransactionFeePercent(ctx context.Context) (uint64, error) {
	out, err := c.Call(ctx, common.Address{}, "transactionFeePercent")
	if err != nil {
		return 0, err
	}
	return vm.Amount(out[0]).Uint64(), nil
}

// AccumulatedFees reads fees held for token.
func (c *Client) AccumulatedFees(ctx context.Context, token common.Address) (*uint256.Int, error) {
	out, err := c.Call(ctx, common.Address{}, "accumulatedFees", token)
	if err != nil {
		return nil, err
	}
	return vm.Amount(out[0]), nil
}

// Owner reads the owner the relay authorizes against.
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	out, err := c.Call(ctx, common.Address{}, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}
