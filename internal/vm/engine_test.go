package vm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/state"
	"github.com/roach88/dispatch/internal/store"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	fixed = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
)

// scripted is a test contract whose behaviour is chosen by the first input
// byte. Storage slot 0 counts successful runs.
type scripted struct{}

const (
	opCount    = 0x01 // increment slot 0, emit Counted
	opFail     = 0x02 // emit, then fail
	opCallSafe = 0x03 // call input[1:21] with opFail, swallow the error, emit Survived
	opRecurse  = 0x04 // call self with opRecurse forever
	opDelegate = 0x05 // delegate opCount to input[1:21]
	opForward  = 0x06 // forward all received value to input[1:21]
)

var slotZero = common.Hash{}

func (scripted) Run(f *Frame, input []byte) ([]byte, error) {
	switch input[0] {
	case opCount:
		s := f.Storage()
		n := s.Uint64(slotZero) + 1
		s.SetUint64(slotZero, n)
		f.Emit("Counted", ir.Object{"n": ir.Int(int64(n))})
		return []byte{byte(n)}, nil
	case opFail:
		f.Emit("Doomed", ir.Object{})
		f.Storage().SetUint64(slotZero, 99)
		return nil, fault.InvalidArgument("scripted failure")
	case opCallSafe:
		target := common.BytesToAddress(input[1:21])
		_, err := f.Call(target, nil, []byte{opFail})
		f.Emit("Survived", ir.Object{"failed": ir.Bool(err != nil)})
		return nil, nil
	case opRecurse:
		return f.Call(f.Self(), nil, []byte{opRecurse})
	case opDelegate:
		return f.DelegateCall(common.BytesToAddress(input[1:21]), []byte{opCount}, &Authority{Owner: alice})
	case opForward:
		return nil, f.Transfer(common.BytesToAddress(input[1:21]), f.Value())
	}
	return nil, fault.NotFound("unknown op %d", input[0])
}

// sink records units and can be told to fail.
type sink struct {
	units []store.Unit
	fail  bool
}

func (s *sink) CommitUnit(_ context.Context, u store.Unit) error {
	if s.fail && u.Call.Status == ir.CallCommitted {
		return errors.New("disk full")
	}
	s.units = append(s.units, u)
	return nil
}

func startEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	reg := NewRegistry().Register("scripted", scripted{})
	opts = append([]Option{
		WithTimeSource(func() time.Time { return fixed }),
		WithCallIDGenerator(NewSequentialGenerator("call")),
	}, opts...)
	e := New(reg, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func deployScripted(t *testing.T, e *Engine) common.Address {
	t.Helper()
	r, err := e.Deploy(context.Background(), alice, "scripted", nil, nil)
	require.NoError(t, err)
	return r.Created
}

func TestEngine_FundAndTransfer(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)

	_, err := e.Fund(ctx, alice, uint256.NewInt(100))
	require.NoError(t, err)

	r, err := e.Call(ctx, Message{From: alice, To: bob, Value: uint256.NewInt(40)})
	require.NoError(t, err)
	assert.True(t, r.Committed())

	bal, err := e.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bal.Uint64())
	bal, err = e.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), bal.Uint64())
}

func TestEngine_InsufficientBalanceReverts(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)

	r, err := e.Call(ctx, Message{From: alice, To: bob, Value: uint256.NewInt(1)})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeInsufficientBalance))
	assert.Equal(t, ir.CallReverted, r.Status)
}

func TestEngine_DeployAddressFollowsNonce(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)

	first := deployScripted(t, e)
	second := deployScripted(t, e)

	assert.Equal(t, crypto.CreateAddress(alice, 0), first)
	assert.Equal(t, crypto.CreateAddress(alice, 1), second)

	kind, err := e.CodeKind(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "scripted", kind)

	_, err = e.Deploy(ctx, alice, "missing", nil, nil)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))

	_, err = e.Deploy(ctx, alice, "scripted", []byte{1}, nil)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument), "no constructor means no args")
}

func TestEngine_EventsCarrySeqAndIDs(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)
	c := deployScripted(t, e)

	r, err := e.Call(ctx, Message{From: alice, To: c, Input: []byte{opCount}})
	require.NoError(t, err)
	require.Len(t, r.Events, 1)

	ev := r.Events[0]
	assert.Equal(t, "Counted", ev.Name)
	assert.Equal(t, string(ir.Address(c)), ev.Emitter)
	assert.Equal(t, r.CallID, ev.CallID)
	assert.Greater(t, ev.Seq, r.Seq)

	want, err := ir.EventID(r.CallID, ev.Seq, ev.Emitter, ev.Name, ev.Fields)
	require.NoError(t, err)
	assert.Equal(t, want, ev.ID)

	feed, err := e.Events(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, r.Events, feed)
}

func TestEngine_NestedRevertKeepsOuter(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)
	inner := deployScripted(t, e)
	outer := deployScripted(t, e)

	input := append([]byte{opCallSafe}, inner.Bytes()...)
	r, err := e.Call(ctx, Message{From: alice, To: outer, Input: input})
	require.NoError(t, err)

	require.Len(t, r.Events, 1, "inner events must be discarded")
	assert.Equal(t, "Survived", r.Events[0].Name)
	assert.Equal(t, ir.Bool(true), r.Events[0].Fields["failed"])

	var inner0 uint64
	require.NoError(t, e.Inspect(ctx, func(db *state.DB) {
		inner0 = db.Storage(inner).Uint64(slotZero)
	}))
	assert.Zero(t, inner0, "inner storage write must be reverted")
}

func TestEngine_TopLevelRevertDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	s := &sink{}
	e := startEngine(t, WithSink(s))
	c := deployScripted(t, e)

	r, err := e.Call(ctx, Message{From: alice, To: c, Input: []byte{opFail}})
	require.Error(t, err)
	assert.Empty(t, r.Events)

	last := s.units[len(s.units)-1]
	assert.Equal(t, ir.CallReverted, last.Call.Status)
	assert.Equal(t, "INVALID_ARGUMENT", last.Call.ErrorCode)
	assert.True(t, last.Changes.Empty())
	assert.Empty(t, last.Events)
}

func TestEngine_DepthLimit(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, WithMaxDepth(8))
	c := deployScripted(t, e)

	_, err := e.Call(ctx, Message{From: alice, To: c, Input: []byte{opRecurse}})
	assert.True(t, fault.Is(err, fault.CodeCallDepthExceeded))
}

func TestEngine_DelegateCallUsesCallerStorage(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)
	lib := deployScripted(t, e)
	host := deployScripted(t, e)

	r, err := e.Call(ctx, Message{From: alice, To: host, Input: append([]byte{opDelegate}, lib.Bytes()...)})
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	assert.Equal(t, string(ir.Address(host)), r.Events[0].Emitter)

	var hostN, libN uint64
	require.NoError(t, e.Inspect(ctx, func(db *state.DB) {
		hostN = db.Storage(host).Uint64(slotZero)
		libN = db.Storage(lib).Uint64(slotZero)
	}))
	assert.Equal(t, uint64(1), hostN)
	assert.Zero(t, libN)
}

func TestEngine_PlainValueToContractWithoutReceiver(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)
	c := deployScripted(t, e)
	_, err := e.Fund(ctx, alice, uint256.NewInt(10))
	require.NoError(t, err)

	_, err = e.Call(ctx, Message{From: alice, To: c, Value: uint256.NewInt(1)})
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))

	bal, err := e.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bal.Uint64())
}

func TestEngine_ForwardValue(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)
	c := deployScripted(t, e)
	_, err := e.Fund(ctx, alice, uint256.NewInt(10))
	require.NoError(t, err)

	_, err = e.Call(ctx, Message{From: alice, To: c, Value: uint256.NewInt(7), Input: append([]byte{opForward}, bob.Bytes()...)})
	require.NoError(t, err)

	bal, err := e.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), bal.Uint64())
	bal, err = e.Balance(ctx, c)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestEngine_ViewDiscardsEffects(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)
	c := deployScripted(t, e)

	out, err := e.View(ctx, Message{From: alice, To: c, Input: []byte{opCount}})
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out)

	out, err = e.View(ctx, Message{From: alice, To: c, Input: []byte{opCount}})
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out, "view must not persist the increment")

	feed, err := e.Events(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestEngine_SinkFailureReverts(t *testing.T) {
	ctx := context.Background()
	s := &sink{}
	e := startEngine(t, WithSink(s))
	c := deployScripted(t, e)
	s.fail = true

	r, err := e.Call(ctx, Message{From: alice, To: c, Input: []byte{opCount}})
	require.Error(t, err)
	assert.Equal(t, ir.CallReverted, r.Status)

	s.fail = false
	r, err = e.Call(ctx, Message{From: alice, To: c, Input: []byte{opCount}})
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, r.Output, "failed unit must not have counted")
}

func TestEngine_CallRecordsAreDeterministic(t *testing.T) {
	ctx := context.Background()
	s := &sink{}
	e := startEngine(t, WithSink(s))
	c := deployScripted(t, e)

	_, err := e.Call(ctx, Message{From: alice, To: c, Input: []byte{opCount}})
	require.NoError(t, err)

	require.Len(t, s.units, 2)
	deploy, call := s.units[0].Call, s.units[1].Call
	assert.Equal(t, "call-0001", deploy.ID)
	assert.Equal(t, "deploy", deploy.Kind)
	assert.Equal(t, string(ir.Address(c)), deploy.To)
	assert.Equal(t, "call-0002", call.ID)
	assert.Equal(t, "0x01", call.Input)
	assert.Equal(t, fixed.Unix(), call.Timestamp)
	assert.Equal(t, ir.CallDigest(call.From, call.To, call.Value, call.Input), call.Digest)
}

func TestEngine_StopRejectsRequests(t *testing.T) {
	reg := NewRegistry()
	e := New(reg)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	e.Stop()
	require.NoError(t, <-done)

	_, err := e.Call(context.Background(), Message{From: alice, To: bob})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestEngine_SubmitHonoursContext(t *testing.T) {
	e := New(NewRegistry()) // never run
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Call(ctx, Message{From: alice, To: bob})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, e.QueueLen())
}

func TestAuthority_Authorize(t *testing.T) {
	assert.NoError(t, Authority{Owner: alice}.Authorize(alice))
	assert.True(t, fault.Is(Authority{Owner: alice}.Authorize(bob), fault.CodeUnauthorized))
	assert.True(t, fault.Is(Authority{}.Authorize(common.Address{}), fault.CodeUnauthorized), "zero owner authorizes nobody")
}
