// Package token implements a minimal fungible token (the ERC20 transfer and
// allowance subset) used to exercise token payments through the relay.
package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/state"
	"github.com/roach88/dispatch/internal/vm"
)

// Kind is the code kind tokens are deployed under.
const Kind = "token"

// Namespace is the token's storage region.
var Namespace = state.NewNamespace("dispatch.token.storage.v1")

const (
	fieldSupply = iota
	fieldBalances
	fieldAllowances
	fieldName
	fieldSymbol
	fieldDecimals
)

// ABI is the token interface.
var ABI = vm.MustParseABI(`[
	{"type":"constructor","stateMutability":"nonpayable","inputs":[
		{"name":"name","type":"string"},
		{"name":"symbol","type":"string"},
		{"name":"decimals","type":"uint8"},
		{"name":"supply","type":"uint256"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable",
	 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`)

// Token is the token code.
type Token struct {
	*vm.Dispatcher
}

// New creates the token code.
func New() *Token {
	t := &Token{}
	t.Dispatcher = vm.NewDispatcher(ABI, map[string]vm.Handler{
		"name":         t.name,
		"symbol":       t.symbol,
		"decimals":     t.decimals,
		"totalSupply":  t.totalSupply,
		"balanceOf":    t.balanceOf,
		"allowance":    t.allowance,
		"approve":      t.approve,
		"transfer":     t.transfer,
		"transferFrom": t.transferFrom,
	})
	return t
}

type ledger struct {
	s state.Storage
}

func (l ledger) balance(a common.Address) *uint256.Int {
	return l.s.Uint(Namespace.Entry(fieldBalances, a.Bytes()))
}

func (l ledger) setBalance(a common.Address, v *uint256.Int) {
	l.s.SetUint(Namespace.Entry(fieldBalances, a.Bytes()), v)
}

func (l ledger) allowanceSlot(owner, spender common.Address) common.Hash {
	return state.MappingSlot(Namespace.Entry(fieldAllowances, owner.Bytes()), spender.Bytes())
}

// Construct mints the whole supply to the deployer.
func (t *Token) Construct(f *vm.Frame, args []byte) error {
	vals, err := ABI.Constructor.Inputs.Unpack(args)
	if err != nil {
		return fault.InvalidArgument("decode constructor arguments: %v", err)
	}
	s := f.Storage()
	s.SetBytes(Namespace.Field(fieldName), []byte(vals[0].(string)))
	s.SetBytes(Namespace.Field(fieldSymbol), []byte(vals[1].(string)))
	s.SetUint64(Namespace.Field(fieldDecimals), uint64(vals[2].(uint8)))

	supply := vm.Amount(vals[3])
	s.SetUint(Namespace.Field(fieldSupply), supply)
	ledger{s}.setBalance(f.Caller(), supply)
	f.Emit("Transfer", ir.Object{
		"from":   ir.Address(common.Address{}),
		"to":     ir.Address(f.Caller()),
		"amount": ir.Amount(supply),
	})
	return nil
}

func (t *Token) name(f *vm.Frame, _ []any) ([]any, error) {
	return []any{string(f.Storage().Bytes(Namespace.Field(fieldName)))}, nil
}

func (t *Token) symbol(f *vm.Frame, _ []any) ([]any, error) {
	return []any{string(f.Storage().Bytes(Namespace.Field(fieldSymbol)))}, nil
}

func (t *Token) decimals(f *vm.Frame, _ []any) ([]any, error) {
	return []any{uint8(f.Storage().Uint64(Namespace.Field(fieldDecimals)))}, nil
}

func (t *Token) totalSupply(f *vm.Frame, _ []any) ([]any, error) {
	return []any{vm.Big(f.Storage().Uint(Namespace.Field(fieldSupply)))}, nil
}

func (t *Token) balanceOf(f *vm.Frame, args []any) ([]any, error) {
	return []any{vm.Big(ledger{f.Storage()}.balance(args[0].(common.Address)))}, nil
}

func (t *Token) allowance(f *vm.Frame, args []any) ([]any, error) {
	l := ledger{f.Storage()}
	slot := l.allowanceSlot(args[0].(common.Address), args[1].(common.Address))
	return []any{vm.Big(l.s.Uint(slot))}, nil
}

func (t *Token) approve(f *vm.Frame, args []any) ([]any, error) {
	spender := args[0].(common.Address)
	amount := vm.Amount(args[1])
	if spender == (common.Address{}) {
		return nil, fault.InvalidArgument("spender must be non-zero")
	}
	l := ledger{f.Storage()}
	l.s.SetUint(l.allowanceSlot(f.Caller(), spender), amount)
	f.Emit("Approval", ir.Object{
		"owner":   ir.Address(f.Caller()),
		"spender": ir.Address(spender),
		"amount":  ir.Amount(amount),
	})
	return []any{true}, nil
}

func (t *Token) transfer(f *vm.Frame, args []any) ([]any, error) {
	if err := move(f, f.Caller(), args[0].(common.Address), vm.Amount(args[1])); err != nil {
		return nil, err
	}
	return []any{true}, nil
}

func (t *Token) transferFrom(f *vm.Frame, args []any) ([]any, error) {
	from, to, amount := args[0].(common.Address), args[1].(common.Address), vm.Amount(args[2])
	l := ledger{f.Storage()}
	slot := l.allowanceSlot(from, f.Caller())
	allowed := l.s.Uint(slot)
	if allowed.Lt(amount) {
		return nil, fault.InsufficientBalance("allowance %s below %s", allowed.Dec(), amount.Dec()).
			With("owner", from.Hex()).
			With("spender", f.Caller().Hex())
	}
	l.s.SetUint(slot, new(uint256.Int).Sub(allowed, amount))
	if err := move(f, from, to, amount); err != nil {
		return nil, err
	}
	return []any{true}, nil
}

func move(f *vm.Frame, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fault.InvalidArgument("transfer to the zero address")
	}
	l := ledger{f.Storage()}
	have := l.balance(from)
	if have.Lt(amount) {
		return fault.InsufficientBalance("balance %s below %s", have.Dec(), amount.Dec()).
			With("account", from.Hex())
	}
	l.setBalance(from, new(uint256.Int).Sub(have, amount))
	l.setBalance(to, new(uint256.Int).Add(l.balance(to), amount))
	f.Emit("Transfer", ir.Object{
		"from":   ir.Address(from),
		"to":     ir.Address(to),
		"amount": ir.Amount(amount),
	})
	return nil
}
