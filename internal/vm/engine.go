package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/state"
	"github.com/roach88/dispatch/internal/store"
)

// DefaultMaxDepth bounds nested calls within one unit of work.
const DefaultMaxDepth = 64

// ErrStopped is returned for requests submitted to, or still queued in, a
// stopped engine.
var ErrStopped = errors.New("vm: engine stopped")

// Sink receives every finished unit of work before it is committed in memory.
// A sink error reverts the unit.
type Sink interface {
	CommitUnit(ctx context.Context, unit store.Unit) error
}

// Message is an external request: a call from an externally owned account.
type Message struct {
	From  common.Address
	To    common.Address
	Value *uint256.Int
	Input []byte
}

// Receipt is the outcome of one unit of work.
type Receipt struct {
	CallID    string
	Seq       int64
	Kind      string
	Status    ir.CallStatus
	Output    []byte
	Created   common.Address // deploys only
	Events    []ir.Event
	Err       error
	Timestamp time.Time
}

// Committed reports whether the unit's effects were applied.
func (r *Receipt) Committed() bool {
	return r.Status == ir.CallCommitted
}

// Engine is the single-writer executor.
//
// Thread-safety model:
//   - Call, View, Deploy, Fund, Inspect: safe from any goroutine; they enqueue
//     and wait for the Run loop
//   - Run: must be called from exactly one goroutine
//
// All state mutation happens inside Run.
type Engine struct {
	db       *state.DB
	registry *Registry
	clock    *Clock
	now      func() time.Time
	callIDs  CallIDGenerator
	sink     Sink
	maxDepth int
	logger   *slog.Logger
	queue    *requestQueue

	// committed event log, in seq order; only touched by Run
	events []ir.Event
}

// Option configures an Engine.
type Option func(*Engine)

// WithState runs the engine over an existing (typically store-loaded) state.
func WithState(db *state.DB) Option {
	return func(e *Engine) { e.db = db }
}

// WithClock resumes sequence numbering from a pre-configured clock.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTimeSource overrides the wall clock exposed to contracts.
func WithTimeSource(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCallIDGenerator overrides UUIDv7 call ids.
func WithCallIDGenerator(g CallIDGenerator) Option {
	return func(e *Engine) { e.callIDs = g }
}

// WithSink persists every unit of work.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMaxDepth sets the nested call limit. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine executing code from the registry.
func New(registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		clock:    NewClock(),
		now:      time.Now,
		callIDs:  UUIDv7Generator{},
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default(),
		queue:    newRequestQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.db == nil {
		e.db = state.New()
	}
	return e
}

// Run processes requests until ctx is cancelled or Stop is called.
// Requests still queued at shutdown are answered with ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "seq", e.clock.Current())
	defer e.rejectPending()

	for {
		if req, ok := e.queue.TryDequeue(); ok {
			req.reply <- e.process(ctx, req)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()
		case <-e.queue.Wait():
			// A closed signal channel fires forever; only an empty closed
			// queue ends the loop.
			if e.queue.Len() == 0 && e.stopped() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once it is drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) stopped() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed
}

func (e *Engine) rejectPending() {
	for _, req := range e.queue.Drain() {
		req.reply <- &Receipt{Kind: req.kind.String(), Status: ir.CallReverted, Err: ErrStopped}
	}
}

// Call executes a state-changing call. The returned error is the receipt's
// revert reason, or a submission failure (nil receipt).
func (e *Engine) Call(ctx context.Context, msg Message) (*Receipt, error) {
	r, err := e.submit(ctx, &request{kind: kindCall, msg: msg})
	if err != nil {
		return nil, err
	}
	return r, r.Err
}

// View executes a call and discards every effect. Nothing is recorded.
func (e *Engine) View(ctx context.Context, msg Message) ([]byte, error) {
	r, err := e.submit(ctx, &request{kind: kindView, msg: msg})
	if err != nil {
		return nil, err
	}
	return r.Output, r.Err
}

// Deploy creates a contract of the given code kind. The address derives from
// the deployer and its nonce. args are handed to the code's Constructor.
func (e *Engine) Deploy(ctx context.Context, from common.Address, kind string, args []byte, value *uint256.Int) (*Receipt, error) {
	r, err := e.submit(ctx, &request{
		kind: kindDeploy,
		code: kind,
		msg:  Message{From: from, Value: value, Input: args},
	})
	if err != nil {
		return nil, err
	}
	return r, r.Err
}

// Fund mints native value to an account out of thin air. It is the genesis
// faucet for local deployments and tests.
func (e *Engine) Fund(ctx context.Context, to common.Address, amount *uint256.Int) (*Receipt, error) {
	r, err := e.submit(ctx, &request{kind: kindFund, msg: Message{To: to, Value: amount}})
	if err != nil {
		return nil, err
	}
	return r, r.Err
}

// Inspect runs fn on the Run goroutine with read access to the current
// committed state. fn must not mutate the state.
func (e *Engine) Inspect(ctx context.Context, fn func(db *state.DB)) error {
	r, err := e.submit(ctx, &request{kind: kindInspect, inspect: func() { fn(e.db) }})
	if err != nil {
		return err
	}
	return r.Err
}

// Balance returns the committed native balance of addr.
func (e *Engine) Balance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	var bal *uint256.Int
	err := e.Inspect(ctx, func(db *state.DB) { bal = db.GetBalance(addr) })
	return bal, err
}

// CodeKind returns the code kind installed at addr, or "" for plain accounts.
func (e *Engine) CodeKind(ctx context.Context, addr common.Address) (string, error) {
	var kind string
	err := e.Inspect(ctx, func(db *state.DB) { kind = db.GetCode(addr) })
	return kind, err
}

// Events returns the committed events with seq greater than after.
func (e *Engine) Events(ctx context.Context, after int64) ([]ir.Event, error) {
	var out []ir.Event
	err := e.Inspect(ctx, func(*state.DB) {
		for _, ev := range e.events {
			if ev.Seq > after {
				out = append(out, ev)
			}
		}
	})
	return out, err
}

// QueueLen returns the number of requests waiting for the Run loop.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

func (e *Engine) submit(ctx context.Context, req *request) (*Receipt, error) {
	req.reply = make(chan *Receipt, 1)
	if !e.queue.Enqueue(req) {
		return nil, ErrStopped
	}
	select {
	case r := <-req.reply:
		if errors.Is(r.Err, ErrStopped) {
			return nil, ErrStopped
		}
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// process executes one unit of work.
// CRITICAL: called only from the Run goroutine.
func (e *Engine) process(ctx context.Context, req *request) *Receipt {
	if req.kind == kindInspect {
		req.inspect()
		return &Receipt{Kind: req.kind.String()}
	}

	x := &execution{engine: e, now: e.now()}
	snap := e.db.Snapshot()

	if req.kind == kindView {
		out, err := x.call(0, req.msg.From, req.msg.To, req.msg.Value, req.msg.Input)
		e.db.RevertToSnapshot(snap)
		return &Receipt{Kind: req.kind.String(), Output: out, Err: err, Timestamp: x.now}
	}

	x.callID = e.callIDs.Generate()
	receipt := &Receipt{
		CallID:    x.callID,
		Seq:       e.clock.Next(),
		Kind:      req.kind.String(),
		Timestamp: x.now,
	}

	var err error
	to := req.msg.To
	switch req.kind {
	case kindCall:
		receipt.Output, err = x.call(0, req.msg.From, req.msg.To, req.msg.Value, req.msg.Input)
	case kindDeploy:
		receipt.Created, err = x.create(req.msg.From, req.code, req.msg.Input, req.msg.Value)
		to = receipt.Created
	case kindFund:
		if req.msg.Value != nil {
			e.db.AddBalance(req.msg.To, req.msg.Value)
		}
	}

	record := e.record(receipt, req.msg, to)
	if err == nil {
		receipt.Events, err = x.finalizeEvents()
	}
	if err != nil {
		e.db.RevertToSnapshot(snap)
		receipt.Status = ir.CallReverted
		receipt.Err = err
		receipt.Events = nil
		record.Status = ir.CallReverted
		record.ErrorCode = string(fault.CodeOf(err))
		record.Error = err.Error()
		record.Output = ""
		if e.sink != nil {
			if serr := e.sink.CommitUnit(ctx, store.Unit{Call: record}); serr != nil {
				e.logger.Error("persist reverted call failed", "call_id", record.ID, "error", serr)
			}
		}
		e.logger.Info("call reverted",
			"call_id", record.ID,
			"seq", record.Seq,
			"kind", record.Kind,
			"to", record.To,
			"code", record.ErrorCode,
			"error", err,
		)
		return receipt
	}

	record.Status = ir.CallCommitted
	if e.sink != nil {
		unit := store.Unit{Call: record, Changes: e.db.Pending(), Events: receipt.Events}
		if serr := e.sink.CommitUnit(ctx, unit); serr != nil {
			e.db.RevertToSnapshot(snap)
			receipt.Status = ir.CallReverted
			receipt.Events = nil
			receipt.Err = fmt.Errorf("persist unit %s: %w", record.ID, serr)
			e.logger.Error("persist unit failed", "call_id", record.ID, "error", serr)
			return receipt
		}
	}
	e.db.Commit()
	e.events = append(e.events, receipt.Events...)
	receipt.Status = ir.CallCommitted

	e.logger.Debug("call committed",
		"call_id", record.ID,
		"seq", record.Seq,
		"kind", record.Kind,
		"to", record.To,
		"events", len(receipt.Events),
	)
	return receipt
}

func (e *Engine) record(r *Receipt, msg Message, to common.Address) ir.CallRecord {
	var from string
	if r.Kind != kindFund.String() {
		from = string(ir.Address(msg.From))
	}
	toStr := string(ir.Address(to))
	value := string(ir.Amount(msg.Value))
	input := hexutil.Encode(msg.Input)
	rec := ir.CallRecord{
		ID:        r.CallID,
		Seq:       r.Seq,
		Kind:      r.Kind,
		From:      from,
		To:        toStr,
		Value:     value,
		Input:     input,
		Digest:    ir.CallDigest(from, toStr, value, input),
		Timestamp: r.Timestamp.Unix(),
	}
	if len(r.Output) > 0 {
		rec.Output = hexutil.Encode(r.Output)
	}
	return rec
}
