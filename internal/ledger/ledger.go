package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/conversation"
	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/vm"
)

// Fee payment modes reported by FeeCharged.
const (
	ModeDirect  = "direct"
	ModeRelayer = "relayer"
)

// Ledger is the module code.
type Ledger struct {
	*vm.Dispatcher
}

// New creates the ledger code.
func New() *Ledger {
	l := &Ledger{}
	l.Dispatcher = vm.NewDispatcher(ABI, map[string]vm.Handler{
		"init":                  l.init,
		"createConversation":    l.createConversation,
		"getMyKey":              l.getMyKey,
		"sendMessage":           l.sendMessage,
		"sendMessageViaRelayer": l.sendMessageViaRelayer,
		"depositFunds":          l.depositFunds,
		"setPayAsYouGoFee":      l.setPayAsYouGoFee,
		"setRelayerFee":         l.setRelayerFee,
		"setRelayer":            l.setRelayer,
		"withdrawCollectedFees": l.withdrawCollectedFees,
		"payAsYouGoFee":         l.payAsYouGoFee,
		"relayerFee":            l.relayerFee,
		"relayer":               l.relayer,
		"fundsOf":               l.fundsOf,
		"collectedFees":         l.collectedFees,
		"conversation":          l.conversation,
		"owner":                 l.owner,
	})
	return l
}

var (
	selInit  = vm.SelectorFromSignature("init(address)")
	selOwner = vm.SelectorFromSignature("owner()")
)

// Routable returns the selectors to install behind a proxy: everything
// except the initializer (run once as the cut's init target) and owner()
// (answered by the proxy).
func (l *Ledger) Routable() []vm.Selector {
	var out []vm.Selector
	for _, sel := range l.Selectors() {
		if sel != selInit && sel != selOwner {
			out = append(out, sel)
		}
	}
	return out
}

// session is one handler invocation with the owner resolved up front.
type session struct {
	f    *vm.Frame
	st   layout
	auth vm.Authority
}

func open(f *vm.Frame) session {
	st := layout{f.Storage()}
	return session{f: f, st: st, auth: vm.ResolveAuthority(f, st.owner)}
}

func (l *Ledger) init(f *vm.Frame, args []any) ([]any, error) {
	s := open(f)
	return nil, s.initialize(args[0].(common.Address))
}

func (s session) initialize(owner common.Address) error {
	if s.st.initialized() {
		return fault.AlreadyInitialized("ledger already initialized")
	}
	if owner == (common.Address{}) {
		return fault.InvalidArgument("owner must be non-zero")
	}
	s.st.setInitialized()
	s.st.setOwner(owner)
	s.st.setPayAsYouGoFee(DefaultPayAsYouGoFee)
	s.st.setRelayerFee(DefaultRelayerFee)
	return nil
}

func (l *Ledger) createConversation(f *vm.Frame, args []any) ([]any, error) {
	id, err := open(f).createConversation(f.Caller(), args[0].(common.Address), args[1].([]byte), args[2].([]byte))
	if err != nil {
		return nil, err
	}
	return []any{[32]byte(id)}, nil
}

// createConversation stores (or overwrites) both key blobs.
func (s session) createConversation(caller, counterparty common.Address, keyForCaller, keyForCounterparty []byte) (common.Hash, error) {
	if counterparty == (common.Address{}) {
		return common.Hash{}, fault.InvalidArgument("counterparty must be non-zero")
	}
	id := conversation.ID(caller, counterparty)
	low, high := conversation.Order(caller, counterparty)
	c := Conversation{
		ID:              id,
		ParticipantLow:  low,
		ParticipantHigh: high,
		CreatedAt:       s.f.Timestamp(),
	}
	if caller == low {
		c.KeyForLow, c.KeyForHigh = keyForCaller, keyForCounterparty
	} else {
		c.KeyForLow, c.KeyForHigh = keyForCounterparty, keyForCaller
	}
	s.st.putConversation(c)

	s.f.Emit("ConversationCreated", ir.Object{
		"conversationId":  ir.Hash(id),
		"participantLow":  ir.Address(low),
		"participantHigh": ir.Address(high),
		"createdBy":       ir.Address(caller),
		"createdAt":       ir.Int(int64(c.CreatedAt)),
	})
	return id, nil
}

func (l *Ledger) getMyKey(f *vm.Frame, args []any) ([]any, error) {
	key, err := open(f).key(vm.Hash(args[0]), f.Caller())
	if err != nil {
		return nil, err
	}
	return []any{key}, nil
}

func (s session) key(id common.Hash, caller common.Address) ([]byte, error) {
	c, ok := s.st.conversation(id)
	if !ok {
		return nil, fault.NotFound("conversation %s not found", id.Hex()).With("conversation", id.Hex())
	}
	key, ok := c.KeyFor(caller)
	if !ok {
		return nil, fault.Unauthorized("caller %s is not a participant", caller.Hex()).With("conversation", id.Hex())
	}
	if key == nil {
		key = []byte{}
	}
	return key, nil
}

func (l *Ledger) sendMessage(f *vm.Frame, args []any) ([]any, error) {
	s := open(f)
	return nil, s.sendDirect(vm.Hash(args[0]), f.Caller(), args[1].(common.Address), args[2].([]byte), f.Value())
}

// sendDirect charges the pay-as-you-go fee from the attached value and
// refunds any excess. The refund is the last step.
func (s session) sendDirect(id common.Hash, sender, recipient common.Address, payload []byte, value *uint256.Int) error {
	fee := s.st.payAsYouGoFee()
	if value.Lt(fee) {
		return fault.InsufficientValue("attached %s, fee is %s", value.Dec(), fee.Dec()).
			With("fee", fee.Dec()).
			With("value", value.Dec())
	}
	s.collect(fee)
	s.emitMessage(id, sender, recipient, payload)
	s.emitFee(id, sender, fee, ModeDirect)

	excess := new(uint256.Int).Sub(value, fee)
	if !excess.IsZero() {
		if err := s.f.Transfer(sender, excess); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) sendMessageViaRelayer(f *vm.Frame, args []any) ([]any, error) {
	s := open(f)
	return nil, s.sendRelayed(
		vm.Hash(args[0]),
		f.Caller(),
		args[1].(common.Address),
		args[2].(common.Address),
		args[3].([]byte),
		vm.Amount(args[4]),
	)
}

// sendRelayed debits exactly the relayer fee from payer's credit.
func (s session) sendRelayed(id common.Hash, caller, payer, recipient common.Address, payload []byte, declaredFee *uint256.Int) error {
	if relayer := s.st.relayer(); relayer == (common.Address{}) || caller != relayer {
		return fault.Unauthorized("caller %s is not the relayer", caller.Hex()).With("caller", caller.Hex())
	}
	fee := s.st.relayerFee()
	if !declaredFee.Eq(fee) {
		return fault.InvalidArgument("declared fee %s does not match relayer fee %s", declaredFee.Dec(), fee.Dec()).
			With("declared", declaredFee.Dec()).
			With("fee", fee.Dec())
	}
	credit := s.st.credit(payer)
	if credit.Lt(fee) {
		return fault.InsufficientCredit("payer %s has %s credit, fee is %s", payer.Hex(), credit.Dec(), fee.Dec()).
			With("payer", payer.Hex()).
			With("credit", credit.Dec()).
			With("fee", fee.Dec())
	}
	s.st.setCredit(payer, new(uint256.Int).Sub(credit, fee))
	s.collect(fee)
	s.emitMessage(id, payer, recipient, payload)
	s.emitFee(id, payer, fee, ModeRelayer)
	return nil
}

func (s session) collect(fee *uint256.Int) {
	s.st.setCollected(new(uint256.Int).Add(s.st.collected(), fee))
}

func (s session) emitMessage(id common.Hash, sender, recipient common.Address, payload []byte) {
	s.f.Emit("MessageSent", ir.Object{
		"conversationId": ir.Hash(id),
		"sender":         ir.Address(sender),
		"recipient":      ir.Address(recipient),
		"payload":        ir.Hex(payload),
		"timestamp":      ir.Int(int64(s.f.Timestamp())),
	})
}

func (s session) emitFee(id common.Hash, payer common.Address, fee *uint256.Int, mode string) {
	s.f.Emit("FeeCharged", ir.Object{
		"conversationId": ir.Hash(id),
		"payer":          ir.Address(payer),
		"amount":         ir.Amount(fee),
		"mode":           ir.String(mode),
	})
}

func (l *Ledger) depositFunds(f *vm.Frame, _ []any) ([]any, error) {
	return nil, open(f).deposit(f.Caller(), f.Value())
}

func (s session) deposit(account common.Address, value *uint256.Int) error {
	if value.IsZero() {
		return fault.InvalidArgument("deposit must attach value")
	}
	balance := new(uint256.Int).Add(s.st.credit(account), value)
	s.st.setCredit(account, balance)
	s.f.Emit("FundsDeposited", ir.Object{
		"account": ir.Address(account),
		"amount":  ir.Amount(value),
		"balance": ir.Amount(balance),
	})
	return nil
}

func (l *Ledger) setPayAsYouGoFee(f *vm.Frame, args []any) ([]any, error) {
	s := open(f)
	fee := vm.Amount(args[0])
	if err := s.checkFee(fee); err != nil {
		return nil, err
	}
	s.st.setPayAsYouGoFee(fee)
	s.f.Emit("PayAsYouGoFeeSet", ir.Object{
		"fee":       ir.Amount(fee),
		"timestamp": ir.Int(int64(f.Timestamp())),
	})
	return nil, nil
}

func (l *Ledger) setRelayerFee(f *vm.Frame, args []any) ([]any, error) {
	s := open(f)
	fee := vm.Amount(args[0])
	if err := s.checkFee(fee); err != nil {
		return nil, err
	}
	s.st.setRelayerFee(fee)
	s.f.Emit("RelayerFeeSet", ir.Object{
		"fee":       ir.Amount(fee),
		"timestamp": ir.Int(int64(f.Timestamp())),
	})
	return nil, nil
}

func (s session) checkFee(fee *uint256.Int) error {
	if err := s.auth.Authorize(s.f.Caller()); err != nil {
		return err
	}
	if fee.IsZero() {
		return fault.InvalidArgument("fee must be positive")
	}
	return nil
}

func (l *Ledger) setRelayer(f *vm.Frame, args []any) ([]any, error) {
	s := open(f)
	if err := s.auth.Authorize(f.Caller()); err != nil {
		return nil, err
	}
	relayer := args[0].(common.Address)
	if relayer == (common.Address{}) {
		return nil, fault.InvalidArgument("relayer must be non-zero")
	}
	prev := s.st.relayer()
	s.st.setRelayer(relayer)
	f.Emit("RelayerSet", ir.Object{
		"previous": ir.Address(prev),
		"relayer":  ir.Address(relayer),
	})
	return nil, nil
}

// withdrawCollectedFees pays earned fees to the owner. Deposited credit is
// never withdrawable this way.
func (l *Ledger) withdrawCollectedFees(f *vm.Frame, _ []any) ([]any, error) {
	s := open(f)
	if err := s.auth.Authorize(f.Caller()); err != nil {
		return nil, err
	}
	amount := s.st.collected()
	if amount.IsZero() {
		return nil, fault.NothingToWithdraw("no collected fees")
	}
	s.st.setCollected(nil)
	f.Emit("CollectedFeesWithdrawn", ir.Object{
		"to":     ir.Address(s.auth.Owner),
		"amount": ir.Amount(amount),
	})
	return nil, f.Transfer(s.auth.Owner, amount)
}

func (l *Ledger) payAsYouGoFee(f *vm.Frame, _ []any) ([]any, error) {
	return []any{vm.Big(layout{f.Storage()}.payAsYouGoFee())}, nil
}

func (l *Ledger) relayerFee(f *vm.Frame, _ []any) ([]any, error) {
	return []any{vm.Big(layout{f.Storage()}.relayerFee())}, nil
}

func (l *Ledger) relayer(f *vm.Frame, _ []any) ([]any, error) {
	return []any{layout{f.Storage()}.relayer()}, nil
}

func (l *Ledger) fundsOf(f *vm.Frame, args []any) ([]any, error) {
	return []any{vm.Big(layout{f.Storage()}.credit(args[0].(common.Address)))}, nil
}

func (l *Ledger) collectedFees(f *vm.Frame, _ []any) ([]any, error) {
	return []any{vm.Big(layout{f.Storage()}.collected())}, nil
}

func (l *Ledger) conversation(f *vm.Frame, args []any) ([]any, error) {
	id := vm.Hash(args[0])
	c, ok := layout{f.Storage()}.conversation(id)
	if !ok {
		return nil, fault.NotFound("conversation %s not found", id.Hex()).With("conversation", id.Hex())
	}
	return []any{c.ParticipantLow, c.ParticipantHigh, c.CreatedAt}, nil
}

// owner reports the owner this code would authorize against: the proxy's
// when routed, the local one when standalone.
func (l *Ledger) owner(f *vm.Frame, _ []any) ([]any, error) {
	return []any{open(f).auth.Owner}, nil
}
