package payrelay

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dispatch/internal/conversation"
	"github.com/roach88/dispatch/internal/diamond"
	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/state"
	"github.com/roach88/dispatch/internal/testutil"
	"github.com/roach88/dispatch/internal/token"
	"github.com/roach88/dispatch/internal/vm"
)

var (
	owner = testutil.Account("owner")
	alice = testutil.Account("alice")
	bob   = testutil.Account("bob")
)

// feeWatcher records the relay's native fee balance at the moment it receives a
// payment, then tries to withdraw the fees while the payment is in flight.
type feeWatcher struct{}

const watcherKind = "fee-watcher"

var (
	watcherNS   = state.NewNamespace("test.feewatcher.storage.v1")
	watcherArgs = vm.MustParseABI(`[{"type":"constructor","inputs":[{"name":"relay","type":"address"}]}]`)
)

func (feeWatcher) Run(*vm.Frame, []byte) ([]byte, error) {
	return nil, fault.NotFound("fee watcher has no methods")
}

func (feeWatcher) Construct(f *vm.Frame, args []byte) error {
	vals, err := watcherArgs.Constructor.Inputs.Unpack(args)
	if err != nil {
		return fault.InvalidArgument("decode fee watcher arguments: %v", err)
	}
	f.Storage().SetAddr(watcherNS.Field(0), vals[0].(common.Address))
	return nil
}

func (feeWatcher) Receive(f *vm.Frame) error {
	s := f.Storage()
	relay := s.Addr(watcherNS.Field(0))

	input, err := ABI.Pack("accumulatedFees", Native)
	if err != nil {
		return err
	}
	out, err := f.Call(relay, nil, input)
	if err != nil {
		return err
	}
	vals, err := ABI.Unpack("accumulatedFees", out)
	if err != nil {
		return err
	}
	s.SetUint(watcherNS.Field(1), vm.Amount(vals[0]))

	// Re-entry is refused (the watcher is not the owner); the outcome is kept
	// rather than propagated.
	input, err = ABI.Pack("withdrawFees", Native)
	if err != nil {
		return err
	}
	if _, err := f.Call(relay, nil, input); err != nil {
		s.SetBytes(watcherNS.Field(2), []byte(fault.CodeOf(err)))
	}
	return nil
}

type env struct {
	e     *vm.Engine
	relay *Client
	proxy *diamond.Client
}

func registry() *vm.Registry {
	return vm.NewRegistry().
		Register(diamond.Kind, diamond.New()).
		Register(Kind, New()).
		Register(token.Kind, token.New()).
		Register(watcherKind, feeWatcher{})
}

func installed(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := testutil.StartEngine(t, registry())
	testutil.Fund(t, e, testutil.Ether(10), owner, alice, bob)

	proxy, _, err := diamond.Deploy(ctx, e, owner, common.Address{})
	require.NoError(t, err)
	r, err := e.Deploy(ctx, owner, Kind, nil, nil)
	require.NoError(t, err)

	initData, err := ABI.Pack("init", owner)
	require.NoError(t, err)
	_, err = proxy.Cut(ctx, owner,
		[]diamond.FacetCut{diamond.NewCut(r.Created, diamond.Add, New().Routable())},
		r.Created, initData)
	require.NoError(t, err)

	return &env{e: e, relay: NewClient(e, proxy.Address()), proxy: proxy}
}

func payment(sender, recipient common.Address) Payment {
	return Payment{
		ConversationID: conversation.ID(sender, recipient),
		Sender:         sender,
		Recipient:      recipient,
		ContentRef:     "ipfs://bafy-receipt",
		ContentHash:    common.HexToHash("0xc0ffee"),
		Mode:           1,
		ClientMsgID:    common.HexToHash("0x1234"),
	}
}

func TestFee(t *testing.T) {
	maxAmount := new(uint256.Int).SetAllOne()
	tests := []struct {
		amount *uint256.Int
		bps    uint64
		want   *uint256.Int
	}{
		{uint256.NewInt(1000), 100, uint256.NewInt(10)},
		{uint256.NewInt(1000), 50, uint256.NewInt(5)},
		{uint256.NewInt(999), 50, uint256.NewInt(4)},
		{uint256.NewInt(19), 50, uint256.NewInt(0)},
		{uint256.NewInt(1000), 0, uint256.NewInt(0)},
		{uint256.NewInt(1000), 1000, uint256.NewInt(100)},
		{maxAmount, 1000, new(uint256.Int).Div(maxAmount, uint256.NewInt(10))},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fee(tt.amount, tt.bps), "%s at %d bps", tt.amount.Dec(), tt.bps)
	}
}

func TestInit(t *testing.T) {
	env := installed(t)
	ctx := context.Background()

	bps, err := env.relay.TransactionFeePercent(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultTransactionFeeBps), bps)

	r, err := env.e.Deploy(ctx, owner, Kind, nil, nil)
	require.NoError(t, err)
	solo := NewClient(env.e, r.Created)
	_, err = solo.Init(ctx, owner, common.Address{})
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))
	_, err = solo.Init(ctx, owner, alice)
	require.NoError(t, err)
	_, err = solo.Init(ctx, owner, alice)
	assert.True(t, fault.Is(err, fault.CodeAlreadyInitialized))

	got, err := solo.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, got)
}

func TestComputeConversationID(t *testing.T) {
	env := installed(t)
	id, err := env.relay.ComputeConversationID(context.Background(), bob, alice)
	require.NoError(t, err)
	assert.Equal(t, conversation.ID(alice, bob), id)
}

func TestSendNative_SkimsFee(t *testing.T) {
	env := installed(t)
	ctx := context.Background()
	_, err := env.relay.SetTransactionFee(ctx, owner, 100)
	require.NoError(t, err)

	bobBefore := testutil.Balance(t, env.e, bob)
	r, err := env.relay.SendNative(ctx, payment(alice, bob), uint256.NewInt(1000))
	require.NoError(t, err)

	assert.Equal(t, new(uint256.Int).AddUint64(bobBefore, 990), testutil.Balance(t, env.e, bob))
	assert.Equal(t, uint256.NewInt(10), testutil.Balance(t, env.e, env.proxy.Address()))

	acc, err := env.relay.AccumulatedFees(ctx, Native)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10), acc)

	require.Len(t, r.Events, 1)
	ev := r.Events[0]
	assert.Equal(t, "PaymentSent", ev.Name)
	assert.Equal(t, ir.String("1000"), ev.Fields["amount"])
	assert.Equal(t, ir.String("10"), ev.Fields["fee"])
	assert.Equal(t, ir.String("990"), ev.Fields["netAmount"])
	assert.Equal(t, ir.Address(Native), ev.Fields["token"])
	assert.Equal(t, ir.String("ipfs://bafy-receipt"), ev.Fields["contentRef"])
	assert.Equal(t, ir.Int(1), ev.Fields["mode"])
}

func TestSendNative_Errors(t *testing.T) {
	env := installed(t)
	ctx := context.Background()

	_, err := env.relay.SendNative(ctx, payment(alice, bob), nil)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))

	_, err = env.relay.SendNative(ctx, payment(alice, common.Address{}), uint256.NewInt(1000))
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))

	acc, err := env.relay.AccumulatedFees(ctx, Native)
	require.NoError(t, err)
	assert.True(t, acc.IsZero())
}

func TestSetTransactionFee(t *testing.T) {
	env := installed(t)
	ctx := context.Background()

	_, err := env.relay.SetTransactionFee(ctx, alice, 10)
	assert.True(t, fault.Is(err, fault.CodeUnauthorized))

	_, err = env.relay.SetTransactionFee(ctx, owner, MaxTransactionFeeBps+1)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))

	// Values above uint64 are still rejected, not truncated.
	huge := new(big.Int).Lsh(big.NewInt(1), 64)
	_, err = env.relay.Transact(ctx, owner, nil, "setTransactionFee", huge)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))

	r, err := env.relay.SetTransactionFee(ctx, owner, MaxTransactionFeeBps)
	require.NoError(t, err)
	assert.Equal(t, "TransactionFeeSet", r.Events[0].Name)

	_, err = env.relay.SetTransactionFee(ctx, owner, 0)
	require.NoError(t, err)
	bps, err := env.relay.TransactionFeePercent(ctx)
	require.NoError(t, err)
	assert.Zero(t, bps)

	// A zero fee forwards everything and books nothing.
	bobBefore := testutil.Balance(t, env.e, bob)
	_, err = env.relay.SendNative(ctx, payment(alice, bob), uint256.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).AddUint64(bobBefore, 1000), testutil.Balance(t, env.e, bob))
}

func TestWithdrawFees_Native(t *testing.T) {
	env := installed(t)
	ctx := context.Background()

	_, err := env.relay.WithdrawFees(ctx, owner, Native)
	assert.True(t, fault.Is(err, fault.CodeNothingToWithdraw))

	_, err = env.relay.SendNative(ctx, payment(alice, bob), uint256.NewInt(10_000))
	require.NoError(t, err)

	_, err = env.relay.WithdrawFees(ctx, alice, Native)
	assert.True(t, fault.Is(err, fault.CodeUnauthorized))

	before := testutil.Balance(t, env.e, owner)
	r, err := env.relay.WithdrawFees(ctx, owner, Native)
	require.NoError(t, err)
	assert.Equal(t, "FeesWithdrawn", r.Events[0].Name)
	assert.Equal(t, new(uint256.Int).AddUint64(before, 50), testutil.Balance(t, env.e, owner))

	acc, err := env.relay.AccumulatedFees(ctx, Native)
	require.NoError(t, err)
	assert.True(t, acc.IsZero())

	_, err = env.relay.WithdrawFees(ctx, owner, Native)
	assert.True(t, fault.Is(err, fault.CodeNothingToWithdraw))
}

func TestSendERC20(t *testing.T) {
	env := installed(t)
	ctx := context.Background()
	_, err := env.relay.SetTransactionFee(ctx, owner, 100)
	require.NoError(t, err)

	tok, err := token.Deploy(ctx, env.e, alice, "Test", "TST", 18, uint256.NewInt(10_000))
	require.NoError(t, err)

	p := payment(alice, bob)
	p.Token = tok.Address()
	p.Amount = uint256.NewInt(1000)

	_, err = env.relay.SendERC20(ctx, p)
	assert.True(t, fault.Is(err, fault.CodeInsufficientBalance), "no allowance yet")
	acc, err := env.relay.AccumulatedFees(ctx, tok.Address())
	require.NoError(t, err)
	assert.True(t, acc.IsZero(), "failed pull discards the booked fee")

	_, err = tok.Approve(ctx, alice, env.proxy.Address(), uint256.NewInt(1000))
	require.NoError(t, err)
	r, err := env.relay.SendERC20(ctx, p)
	require.NoError(t, err)

	names := make([]string, len(r.Events))
	for i, ev := range r.Events {
		names[i] = ev.Name
	}
	assert.Equal(t, []string{"PaymentSent", "Transfer", "Transfer"}, names, "bookkeeping precedes transfers")

	bal, err := tok.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(990), bal)
	bal, err = tok.BalanceOf(ctx, env.proxy.Address())
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10), bal)

	acc, err = env.relay.AccumulatedFees(ctx, tok.Address())
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10), acc)

	_, err = env.relay.WithdrawFees(ctx, owner, tok.Address())
	require.NoError(t, err)
	bal, err = tok.BalanceOf(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10), bal)
}

func TestSendERC20_Errors(t *testing.T) {
	env := installed(t)
	ctx := context.Background()

	p := payment(alice, bob)
	p.Amount = uint256.NewInt(1000)
	_, err := env.relay.SendERC20(ctx, p)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument), "zero token")

	p.Token = testutil.Account("not-a-token")
	_, err = env.relay.SendERC20(ctx, p)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument), "token without code")

	p.Amount = new(uint256.Int)
	_, err = env.relay.SendERC20(ctx, p)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument), "zero amount")

	_, err = env.relay.Transact(ctx, alice, uint256.NewInt(1), "sendERC20",
		p.ConversationID, bob, p.Token, big.NewInt(1), "", p.ContentHash, uint8(0), p.ClientMsgID)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument), "sendERC20 is not payable")
}

func TestSendNative_BookkeepingPrecedesTransfer(t *testing.T) {
	env := installed(t)
	ctx := context.Background()

	args, err := watcherArgs.Pack("", env.proxy.Address())
	require.NoError(t, err)
	r, err := env.e.Deploy(ctx, owner, watcherKind, args, nil)
	require.NoError(t, err)
	recipient := r.Created

	_, err = env.relay.SendNative(ctx, payment(alice, recipient), uint256.NewInt(10_000))
	require.NoError(t, err)

	require.NoError(t, env.e.Inspect(ctx, func(db *state.DB) {
		s := db.Storage(recipient)
		assert.Equal(t, uint64(50), s.Uint64(watcherNS.Field(1)), "fee was booked before the recipient ran")
		assert.Equal(t, string(fault.CodeUnauthorized), string(s.Bytes(watcherNS.Field(2))))
	}))
	assert.Equal(t, uint256.NewInt(9950), testutil.Balance(t, env.e, recipient))
}
