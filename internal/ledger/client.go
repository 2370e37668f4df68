package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/vm"
)

// Client drives a ledger, either standalone or through a proxy address.
type Client struct {
	*vm.BoundContract
}

// NewClient binds the ledger interface to address.
func NewClient(e *vm.Engine, address common.Address) *Client {
	return &Client{BoundContract: vm.Bind(e, address, ABI)}
}

// Init initializes a standalone ledger.
func (c *Client) Init(ctx context.Context, from, owner common.Address) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "init", owner)
}

// CreateConversation stores both key blobs and returns the conversation id.
func (c *Client) CreateConversation(ctx context.Context, from, counterparty common.Address, keyForCaller, keyForCounterparty []byte) (common.Hash, *vm.Receipt, error) {
	r, err := c.Transact(ctx, from, nil, "createConversation", counterparty, keyForCaller, keyForCounterparty)
	if err != nil {
		return common.Hash{}, r, err
	}
	out, err := ABI.Unpack("createConversation", r.Output)
	if err != nil {
		return common.Hash{}, r, err
	}
	return common.Hash(out[0].([32]byte)), r, nil
}

// GetMyKey returns the caller's blob.
func (c *Client) GetMyKey(ctx context.Context, from common.Address, id common.Hash) ([]byte, error) {
	out, err := c.Call(ctx, from, "getMyKey", id)
	if err != nil {
		return nil, err
	}
	return out[0].([]byte), nil
}

// SendMessage pays the fee inline with value.
func (c *Client) SendMessage(ctx context.Context, from common.Address, value *uint256.Int, id common.Hash, recipient common.Address, payload []byte) (*vm.Receipt, error) {
	return c.Transact(ctx, from, value, "sendMessage", id, recipient, payload)
}

// SendMessageViaRelayer submits a message paid from payer's credit.
func (c *Client) SendMessageViaRelayer(ctx context.Context, relayer common.Address, id common.Hash, payer, recipient common.Address, payload []byte, fee *uint256.Int) (*vm.Receipt, error) {
	return c.Transact(ctx, relayer, nil, "sendMessageViaRelayer", id, payer, recipient, payload, vm.Big(fee))
}

// DepositFunds adds prepaid credit for from.
func (c *Client) DepositFunds(ctx context.Context, from common.Address, value *uint256.Int) (*vm.Receipt, error) {
	return c.Transact(ctx, from, value, "depositFunds")
}

// SetPayAsYouGoFee updates the direct message fee.
func (c *Client) SetPayAsYouGoFee(ctx context.Context, from common.Address, fee *uint256.Int) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "setPayAsYouGoFee", vm.Big(fee))
}

// SetRelayerFee updates the relayed message fee.
func (c *Client) SetRelayerFee(ctx context.Context, from common.Address, fee *uint256.Int) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "setRelayerFee", vm.Big(fee))
}

// SetRelayer changes the authorized relayer.
func (c *Client) SetRelayer(ctx context.Context, from, relayer common.Address) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "setRelayer", relayer)
}

// WithdrawCollectedFees pays earned fees to the owner.
func (c *Client) WithdrawCollectedFees(ctx context.Context, from common.Address) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "withdrawCollectedFees")
}

// Owner reads the owner the ledger authorizes against. Behind a proxy the
// proxy answers owner() itself.
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	out, err := c.Call(ctx, common.Address{}, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// PayAsYouGoFee reads the direct fee.
func (c *Client) PayAsYouGoFee(ctx context.Context) (*uint256.Int, error) {
	return c.amount(ctx, "payAsYouGoFee")
}

// RelayerFee reads the relayed fee.
func (c *Client) RelayerFee(ctx context.Context) (*uint256.Int, error) {
	return c.amount(ctx, "relayerFee")
}

// CollectedFees reads fees earned and not yet withdrawn.
func (c *Client) CollectedFees(ctx context.Context) (*uint256.Int, error) {
	return c.amount(ctx, "collectedFees")
}

// FundsOf reads account's prepaid credit.
func (c *Client) FundsOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return c.amount(ctx, "fundsOf", account)
}

// Relayer reads the authorized relayer.
func (c *Client) Relayer(ctx context.Context) (common.Address, error) {
	out, err := c.Call(ctx, common.Address{}, "relayer")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// Conversation reads the public part of a conversation.
func (c *Client) Conversation(ctx context.Context, id common.Hash) (Conversation, error) {
	out, err := c.Call(ctx, common.Address{}, "conversation", id)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:              id,
		ParticipantLow:  out[0].(common.Address),
		ParticipantHigh: out[1].(common.Address),
		CreatedAt:       out[2].(uint64),
	}, nil
}

func (c *Client) amount(ctx context.Context, method string, args ...any) (*uint256.Int, error) {
	out, err := c.Call(ctx, common.Address{}, method, args...)
	if err != nil {
		return nil, err
	}
	return vm.Amount(out[0]), nil
}
