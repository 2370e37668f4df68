package vm

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/state"
)

// Authority is the owner identity a dispatching proxy resolves before
// delegating to module code. Module code running under a proxy authorizes
// admin operations against it instead of its own storage.
type Authority struct {
	Owner common.Address
}

// ResolveAuthority returns the proxy-supplied authority of f, or one built
// from the code's own stored owner when it was called directly.
func ResolveAuthority(f *Frame, localOwner func() common.Address) Authority {
	if f.auth != nil {
		return *f.auth
	}
	return Authority{Owner: localOwner()}
}

// Authorize fails with Unauthorized unless caller is the owner. A zero owner
// authorizes nobody.
func (a Authority) Authorize(caller common.Address) error {
	if a.Owner == (common.Address{}) || caller != a.Owner {
		return fault.Unauthorized("caller %s is not the owner", caller.Hex()).With("caller", caller.Hex())
	}
	return nil
}

// execution is the per-unit context shared by every frame of one unit.
type execution struct {
	engine *Engine
	callID string
	now    time.Time
	events []pendingEvent
}

type pendingEvent struct {
	emitter common.Address
	name    string
	fields  ir.Object
}

// Frame is one activation of contract code.
type Frame struct {
	x      *execution
	caller common.Address
	self   common.Address
	code   common.Address
	value  *uint256.Int
	auth   *Authority
	depth  int
}

// Caller is the immediate sender. Delegated frames keep the caller of the
// frame that delegated.
func (f *Frame) Caller() common.Address { return f.caller }

// Self is the address whose storage and balance the frame operates on.
func (f *Frame) Self() common.Address { return f.self }

// CodeAddress is the address the executing code was loaded from. It differs
// from Self inside a delegated frame.
func (f *Frame) CodeAddress() common.Address { return f.code }

// Delegated reports whether the frame runs borrowed code.
func (f *Frame) Delegated() bool { return f.code != f.self }

// Value is the native value attached to the call (never nil).
func (f *Frame) Value() *uint256.Int {
	if f.value == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(f.value)
}

// Authority is the owner identity supplied by a dispatching proxy, or nil
// when the code was called directly.
func (f *Frame) Authority() *Authority { return f.auth }

// Now is the execution timestamp shared by every frame of the unit.
func (f *Frame) Now() time.Time { return f.x.now }

// Timestamp is Now in Unix seconds.
func (f *Frame) Timestamp() uint64 { return uint64(f.x.now.Unix()) }

// Depth is the nesting level; the top-level call runs at 0.
func (f *Frame) Depth() int { return f.depth }

// Storage is the key-value view of Self.
func (f *Frame) Storage() state.Storage { return f.x.engine.db.Storage(f.self) }

// Balance returns the native balance of addr.
func (f *Frame) Balance(addr common.Address) *uint256.Int {
	return f.x.engine.db.GetBalance(addr)
}

// HasCode reports whether addr holds contract code.
func (f *Frame) HasCode(addr common.Address) bool {
	return f.x.engine.db.HasCode(addr)
}

// Emit appends an event attributed to Self. Events of a frame that later
// reverts are discarded.
func (f *Frame) Emit(name string, fields ir.Object) {
	f.x.events = append(f.x.events, pendingEvent{emitter: f.self, name: name, fields: fields})
}

// Call performs a regular call from Self: the callee runs its own code
// against its own storage, with Self as caller.
func (f *Frame) Call(to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	return f.x.call(f.depth+1, f.self, to, value, input)
}

// Transfer sends native value from Self to a recipient. If the recipient is
// a contract its receive hook runs and may call back.
func (f *Frame) Transfer(to common.Address, amount *uint256.Int) error {
	_, err := f.x.call(f.depth+1, f.self, to, amount, nil)
	return err
}

// DelegateCall runs the code stored at codeAddr against Self's storage and
// balance, preserving caller and value. auth is passed through to the
// delegated frame.
func (f *Frame) DelegateCall(codeAddr common.Address, input []byte, auth *Authority) ([]byte, error) {
	return f.x.delegate(f, codeAddr, input, auth)
}

func (x *execution) checkDepth(depth int) error {
	if depth > x.engine.maxDepth {
		return fault.New(fault.CodeCallDepthExceeded, "call depth %d exceeds limit %d", depth, x.engine.maxDepth)
	}
	return nil
}

// call transfers value and runs the callee's code. Any failure reverts the
// call's state changes and events.
func (x *execution) call(depth int, from, to common.Address, value *uint256.Int, input []byte) (out []byte, err error) {
	if err := x.checkDepth(depth); err != nil {
		return nil, err
	}
	db := x.engine.db
	snap, mark := db.Snapshot(), len(x.events)
	defer func() {
		if err != nil {
			db.RevertToSnapshot(snap)
			x.events = x.events[:mark]
		}
	}()

	if value != nil && !value.IsZero() {
		if err := db.SubBalance(from, value); err != nil {
			return nil, err
		}
		db.AddBalance(to, value)
	}

	kind := db.GetCode(to)
	if kind == "" {
		return nil, nil
	}
	contract, ok := x.engine.registry.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("no code registered for kind %q at %s", kind, to.Hex())
	}

	f := &Frame{x: x, caller: from, self: to, code: to, value: value, depth: depth}
	if len(input) == 0 {
		if r, ok := contract.(Receiver); ok {
			return nil, r.Receive(f)
		}
		if f.Value().Sign() > 0 {
			return nil, fault.InvalidArgument("%s does not accept plain transfers", to.Hex())
		}
		return nil, nil
	}
	return contract.Run(f, input)
}

func (x *execution) delegate(parent *Frame, codeAddr common.Address, input []byte, auth *Authority) (out []byte, err error) {
	depth := parent.depth + 1
	if err := x.checkDepth(depth); err != nil {
		return nil, err
	}
	db := x.engine.db
	snap, mark := db.Snapshot(), len(x.events)
	defer func() {
		if err != nil {
			db.RevertToSnapshot(snap)
			x.events = x.events[:mark]
		}
	}()

	kind := db.GetCode(codeAddr)
	if kind == "" {
		return nil, fault.InvalidArgument("delegate target %s has no code", codeAddr.Hex())
	}
	contract, ok := x.engine.registry.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("no code registered for kind %q at %s", kind, codeAddr.Hex())
	}

	f := &Frame{
		x:      x,
		caller: parent.caller,
		self:   parent.self,
		code:   codeAddr,
		value:  parent.value,
		auth:   auth,
		depth:  depth,
	}
	return contract.Run(f, input)
}

// create installs code at the CREATE address of (from, nonce) and runs its
// constructor.
func (x *execution) create(from common.Address, kind string, args []byte, value *uint256.Int) (addr common.Address, err error) {
	db := x.engine.db
	contract, ok := x.engine.registry.Lookup(kind)
	if !ok {
		return common.Address{}, fault.InvalidArgument("unknown code kind %q", kind)
	}

	nonce := db.GetNonce(from)
	addr = crypto.CreateAddress(from, nonce)
	if db.HasCode(addr) {
		return common.Address{}, fault.InvalidArgument("address %s already holds code", addr.Hex())
	}
	db.SetNonce(from, nonce+1)
	db.SetCode(addr, kind)

	if value != nil && !value.IsZero() {
		if err := db.SubBalance(from, value); err != nil {
			return common.Address{}, err
		}
		db.AddBalance(addr, value)
	}

	f := &Frame{x: x, caller: from, self: addr, code: addr, value: value}
	if c, ok := contract.(Constructor); ok {
		if err := c.Construct(f, args); err != nil {
			return common.Address{}, err
		}
	} else if len(args) > 0 {
		return common.Address{}, fault.InvalidArgument("code kind %q takes no constructor arguments", kind)
	}
	return addr, nil
}

// finalizeEvents stamps the surviving events with seq and content ids.
func (x *execution) finalizeEvents() ([]ir.Event, error) {
	if len(x.events) == 0 {
		return nil, nil
	}
	out := make([]ir.Event, 0, len(x.events))
	for _, pe := range x.events {
		seq := x.engine.clock.Next()
		emitter := string(ir.Address(pe.emitter))
		fields := pe.fields
		if fields == nil {
			fields = ir.Object{}
		}
		id, err := ir.EventID(x.callID, seq, emitter, pe.name, fields)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", pe.name, err)
		}
		out = append(out, ir.Event{
			ID:      id,
			Seq:     seq,
			CallID:  x.callID,
			Emitter: emitter,
			Name:    pe.name,
			Fields:  fields,
		})
	}
	return out, nil
}
