package payrelay

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/conversation"
	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/vm"
)

// Relay is the module code.
type Relay struct {
	*vm.Dispatcher
}

// New creates the relay code.
func New() *Relay {
	r := &Relay{}
	r.Dispatcher = vm.NewDispatcher(ABI, map[string]vm.Handler{
		"init":                  r.init,
		"computeConversationId": r.computeConversationID,
		"sendNative":            r.sendNative,
		"sendERC20":             r.sendERC20,
		"setTransactionFee":     r.setTransactionFee,
		"withdrawFees":          r.withdrawFees,
		"transactionFeePercent": r.transactionFeePercent,
		"accumulatedFees":       r.accumulatedFees,
		"owner":                 r.owner,
	})
	return r
}

var (
	selInit  = vm.SelectorFromSignature("init(address)")
	selOwner = vm.SelectorFromSignature("owner()")
)

// Routable returns the selectors to install behind a proxy. owner() collides
// with the proxy built-in and init only runs as a cut initializer.
func (r *Relay) Routable() []vm.Selector {
	var out []vm.Selector
	for _, sel := range r.Selectors() {
		if sel != selInit && sel != selOwner {
			out = append(out, sel)
		}
	}
	return out
}

// Fee returns amount × bps / 10000, rounded down.
func Fee(amount *uint256.Int, bps uint64) *uint256.Int {
	fee, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), uint256.NewInt(bpsDenominator))
	return fee
}

// Payment is a relayed payment before fee deduction.
type Payment struct {
	ConversationID common.Hash
	Sender         common.Address
	Recipient      common.Address
	Token          common.Address // Native for the native currency
	Amount         *uint256.Int
	ContentRef     string
	ContentHash    common.Hash
	Mode           uint8
	ClientMsgID    common.Hash
}

type session struct {
	f    *vm.Frame
	st   layout
	auth vm.Authority
}

func open(f *vm.Frame) session {
	st := layout{f.Storage()}
	return session{f: f, st: st, auth: vm.ResolveAuthority(f, st.owner)}
}

func (r *Relay) init(f *vm.Frame, args []any) ([]any, error) {
	s := open(f)
	if s.st.initialized() {
		return nil, fault.AlreadyInitialized("payment relay already initialized")
	}
	owner := args[0].(common.Address)
	if owner == (common.Address{}) {
		return nil, fault.InvalidArgument("owner must be non-zero")
	}
	s.st.setInitialized()
	s.st.setOwner(owner)
	s.st.setFeeBps(DefaultTransactionFeeBps)
	return nil, nil
}

func (r *Relay) computeConversationID(_ *vm.Frame, args []any) ([]any, error) {
	id := conversation.ID(args[0].(common.Address), args[1].(common.Address))
	return []any{[32]byte(id)}, nil
}

func (r *Relay) sendNative(f *vm.Frame, args []any) ([]any, error) {
	p := Payment{
		ConversationID: vm.Hash(args[0]),
		Sender:         f.Caller(),
		Recipient:      args[1].(common.Address),
		Token:          Native,
		Amount:         f.Value(),
		ContentRef:     args[2].(string),
		ContentHash:    vm.Hash(args[3]),
		Mode:           args[4].(uint8),
		ClientMsgID:    vm.Hash(args[5]),
	}
	return nil, open(f).relayNative(p)
}

func (s session) relayNative(p Payment) error {
	if p.Recipient == (common.Address{}) {
		return fault.InvalidArgument("recipient must be non-zero")
	}
	if p.Amount.IsZero() {
		return fault.InvalidArgument("payment must attach value")
	}
	net := s.book(p)
	return s.f.Transfer(p.Recipient, net)
}

func (r *Relay) sendERC20(f *vm.Frame, args []any) ([]any, error) {
	p := Payment{
		ConversationID: vm.Hash(args[0]),
		Sender:         f.Caller(),
		Recipient:      args[1].(common.Address),
		Token:          args[2].(common.Address),
		Amount:         vm.Amount(args[3]),
		ContentRef:     args[4].(string),
		ContentHash:    vm.Hash(args[5]),
		Mode:           args[6].(uint8),
		ClientMsgID:    vm.Hash(args[7]),
	}
	return nil, open(f).relayToken(p)
}

func (s session) relayToken(p Payment) error {
	if p.Recipient == (common.Address{}) {
		return fault.InvalidArgument("recipient must be non-zero")
	}
	if p.Token == (common.Address{}) {
		return fault.InvalidArgument("token must be non-zero")
	}
	if p.Amount.IsZero() {
		return fault.InvalidArgument("amount must be positive")
	}
	if !s.f.HasCode(p.Token) {
		return fault.InvalidArgument("token %s has no code", p.Token.Hex())
	}
	net := s.book(p)
	if err := s.callToken(p.Token, "transferFrom", p.Sender, s.f.Self(), vm.Big(p.Amount)); err != nil {
		return err
	}
	return s.callToken(p.Token, "transfer", p.Recipient, vm.Big(net))
}

// book records the fee and emits PaymentSent, returning the amount owed to
// the recipient.
func (s session) book(p Payment) *uint256.Int {
	fee := Fee(p.Amount, s.st.feeBps())
	net := new(uint256.Int).Sub(p.Amount, fee)
	if !fee.IsZero() {
		s.st.setAccumulated(p.Token, new(uint256.Int).Add(s.st.accumulated(p.Token), fee))
	}
	s.f.Emit("PaymentSent", ir.Object{
		"conversationId": ir.Hash(p.ConversationID),
		"sender":         ir.Address(p.Sender),
		"recipient":      ir.Address(p.Recipient),
		"token":          ir.Address(p.Token),
		"amount":         ir.Amount(p.Amount),
		"fee":            ir.Amount(fee),
		"netAmount":      ir.Amount(net),
		"contentRef":     ir.String(p.ContentRef),
		"contentHash":    ir.Hash(p.ContentHash),
		"mode":           ir.Int(int64(p.Mode)),
		"clientMsgId":    ir.Hash(p.ClientMsgID),
		"timestamp":      ir.Int(int64(s.f.Timestamp())),
	})
	return net
}

func (s session) callToken(token common.Address, method string, args ...any) error {
	input, err := tokenABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack token %s: %w", method, err)
	}
	out, err := s.f.Call(token, nil, input)
	if err != nil {
		return err
	}
	res, err := tokenABI.Unpack(method, out)
	if err != nil || len(res) != 1 {
		return fault.InvalidArgument("token %s returned malformed %s result", token.Hex(), method)
	}
	if ok, _ := res[0].(bool); !ok {
		return fault.InvalidArgument("token %s rejected %s", token.Hex(), method)
	}
	return nil
}

func (r *Relay) setTransactionFee(f *vm.Frame, args []any) ([]any, error) {
	s := open(f)
	if err := s.auth.Authorize(f.Caller()); err != nil {
		return nil, err
	}
	bps := vm.Amount(args[0])
	if bps.GtUint64(MaxTransactionFeeBps) {
		return nil, fault.InvalidArgument("fee %s bps exceeds %d", bps.Dec(), MaxTransactionFeeBps).
			With("bps", bps.Dec())
	}
	s.st.setFeeBps(bps.Uint64())
	f.Emit("TransactionFeeSet", ir.Object{
		"bps":       ir.Int(int64(bps.Uint64())),
		"timestamp": ir.Int(int64(f.Timestamp())),
	})
	return nil, nil
}

func (r *Relay) withdrawFees(f *vm.Frame, args []any) ([]any, error) {
	s := open(f)
	if err := s.auth.Authorize(f.Caller()); err != nil {
		return nil, err
	}
	token := args[0].(common.Address)
	amount := s.st.accumulated(token)
	if amount.IsZero() {
		return nil, fault.NothingToWithdraw("no fees accumulated for %s", token.Hex()).With("token", token.Hex())
	}
	s.st.setAccumulated(token, nil)
	f.Emit("FeesWithdrawn", ir.Object{
		"token":  ir.Address(token),
		"to":     ir.Address(s.auth.Owner),
		"amount": ir.Amount(amount),
	})

	if token == Native {
		return nil, f.Transfer(s.auth.Owner, amount)
	}
	return nil, s.callToken(token, "transfer", s.auth.Owner, vm.Big(amount))
}

func (r *Relay) transactionFeePercent(f *vm.Frame, _ []any) ([]any, error) {
	return []any{vm.Big(uint256.NewInt(layout{f.Storage()}.feeBps()))}, nil
}

func (r *Relay) accumulatedFees(f *vm.Frame, args []any) ([]any, error) {
	return []any{vm.Big(layout{f.Storage()}.accumulated(args[0].(common.Address)))}, nil
}

func (r *Relay) owner(f *vm.Frame, _ []any) ([]any, error) {
	return []any{open(f).auth.Owner}, nil
}
