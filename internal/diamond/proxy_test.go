package diamond

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/state"
	"github.com/roach88/dispatch/internal/testutil"
	"github.com/roach88/dispatch/internal/vm"
)

// counter is a minimal module used to exercise routing and storage context.
type counter struct {
	*vm.Dispatcher
}

var (
	counterNS  = state.NewNamespace("test.counter.storage.v1")
	counterABI = vm.MustParseABI(`[
		{"type":"function","name":"init","stateMutability":"nonpayable",
		 "inputs":[{"name":"start","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"increment","stateMutability":"payable","inputs":[],"outputs":[]},
		{"type":"function","name":"count","stateMutability":"view",
		 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"reset","stateMutability":"nonpayable","inputs":[],"outputs":[]},
		{"type":"function","name":"whoami","stateMutability":"view",
		 "inputs":[],"outputs":[{"name":"","type":"address"},{"name":"","type":"address"}]}
	]`)
	// An ABI fragment with a selector no module knows.
	strayABI = vm.MustParseABI(`[{"type":"function","name":"stray","stateMutability":"nonpayable","inputs":[],"outputs":[]}]`)
)

func newCounter() *counter {
	c := &counter{}
	c.Dispatcher = vm.NewDispatcher(counterABI, map[string]vm.Handler{
		"init": func(f *vm.Frame, args []any) ([]any, error) {
			start := vm.Amount(args[0])
			if start.IsZero() {
				return nil, fault.InvalidArgument("start must be positive")
			}
			f.Storage().SetUint(counterNS.Field(0), start)
			return nil, nil
		},
		"increment": func(f *vm.Frame, _ []any) ([]any, error) {
			s := f.Storage()
			n := s.Uint(counterNS.Field(0))
			s.SetUint(counterNS.Field(0), n.AddUint64(n, 1))
			f.Emit("Incremented", ir.Object{"by": ir.Address(f.Caller())})
			return nil, nil
		},
		"count": func(f *vm.Frame, _ []any) ([]any, error) {
			return []any{vm.Big(f.Storage().Uint(counterNS.Field(0)))}, nil
		},
		"reset": func(f *vm.Frame, _ []any) ([]any, error) {
			auth := vm.ResolveAuthority(f, func() common.Address { return common.Address{} })
			if err := auth.Authorize(f.Caller()); err != nil {
				return nil, err
			}
			f.Storage().SetUint(counterNS.Field(0), new(uint256.Int))
			return nil, nil
		},
		"whoami": func(f *vm.Frame, _ []any) ([]any, error) {
			return []any{f.Self(), f.CodeAddress()}, nil
		},
	})
	return c
}

func selectorsOf(names ...string) []vm.Selector {
	out := make([]vm.Selector, len(names))
	for i, n := range names {
		out[i] = vm.Selector(counterABI.Methods[n].ID)
	}
	return out
}

type fixture struct {
	e       *vm.Engine
	proxy   *Client
	owner   common.Address
	module  common.Address
	module2 common.Address
}

func setup(t *testing.T) *fixture {
	t.Helper()
	reg := vm.NewRegistry().
		Register(Kind, New()).
		Register("counter", newCounter())
	e := testutil.StartEngine(t, reg)
	ctx := context.Background()

	owner := testutil.Account("owner")
	proxy, _, err := Deploy(ctx, e, owner, common.Address{})
	require.NoError(t, err)

	r1, err := e.Deploy(ctx, owner, "counter", nil, nil)
	require.NoError(t, err)
	r2, err := e.Deploy(ctx, owner, "counter", nil, nil)
	require.NoError(t, err)

	return &fixture{e: e, proxy: proxy, owner: owner, module: r1.Created, module2: r2.Created}
}

// through binds the counter ABI at the proxy address.
func (fx *fixture) through() *vm.BoundContract {
	return vm.Bind(fx.e, fx.proxy.Address(), counterABI)
}

func (fx *fixture) count(t *testing.T) int64 {
	t.Helper()
	out, err := fx.through().Call(context.Background(), fx.owner, "count")
	require.NoError(t, err)
	return out[0].(*big.Int).Int64()
}

func TestProxy_DeployOwner(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	owner, err := fx.proxy.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, fx.owner, owner)

	other := testutil.Account("other")
	explicit, _, err := Deploy(ctx, fx.e, fx.owner, other)
	require.NoError(t, err)
	owner, err = explicit.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, other, owner)
}

func TestProxy_CutRoutesAndIntrospection(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	r, err := fx.proxy.Cut(ctx, fx.owner,
		[]FacetCut{NewCut(fx.module, Add, selectorsOf("increment", "count"))},
		common.Address{}, nil)
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	assert.Equal(t, "DiamondCut", r.Events[0].Name)

	addr, err := fx.proxy.FacetAddress(ctx, selectorsOf("count")[0])
	require.NoError(t, err)
	assert.Equal(t, fx.module, addr)

	modules, err := fx.proxy.FacetAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{fx.module}, modules)

	sels, err := fx.proxy.FacetFunctionSelectors(ctx, fx.module)
	require.NoError(t, err)
	assert.Equal(t, selectorsOf("increment", "count"), sels)

	_, err = fx.proxy.FacetAddress(ctx, selectorsOf("reset")[0])
	assert.True(t, fault.Is(err, fault.CodeNotFound))
}

func TestProxy_FallbackRunsInProxyStorage(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	_, err := fx.proxy.Cut(ctx, fx.owner,
		[]FacetCut{NewCut(fx.module, Add, selectorsOf("increment", "count", "whoami"))},
		common.Address{}, nil)
	require.NoError(t, err)

	user := testutil.Account("user")
	r, err := fx.through().Transact(ctx, user, nil, "increment")
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	assert.Equal(t, fx.proxy.Address().Hex(), r.Events[0].Emitter, "module events are emitted by the proxy")
	assert.Equal(t, ir.Address(user), r.Events[0].Fields["by"], "caller is preserved through delegation")
	assert.Equal(t, int64(1), fx.count(t))

	// The module's own storage is untouched.
	direct := vm.Bind(fx.e, fx.module, counterABI)
	out, err := direct.Call(ctx, user, "count")
	require.NoError(t, err)
	assert.Zero(t, out[0].(*big.Int).Sign())

	out, err = fx.through().Call(ctx, user, "whoami")
	require.NoError(t, err)
	assert.Equal(t, fx.proxy.Address(), out[0])
	assert.Equal(t, fx.module, out[1])
}

func TestProxy_FallbackUnmappedSelector(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	input, err := strayABI.Pack("stray")
	require.NoError(t, err)
	_, err = fx.e.Call(ctx, vm.Message{From: fx.owner, To: fx.proxy.Address(), Input: input})
	assert.True(t, fault.Is(err, fault.CodeNotFound))

	_, err = fx.e.Call(ctx, vm.Message{From: fx.owner, To: fx.proxy.Address(), Input: []byte{0x01}})
	assert.True(t, fault.Is(err, fault.CodeNotFound))
}

func TestProxy_CutOwnerOnly(t *testing.T) {
	fx := setup(t)
	_, err := fx.proxy.Cut(context.Background(), testutil.Account("mallory"),
		[]FacetCut{NewCut(fx.module, Add, selectorsOf("count"))},
		common.Address{}, nil)
	assert.True(t, fault.Is(err, fault.CodeUnauthorized))

	modules, err := fx.proxy.FacetAddresses(context.Background())
	require.NoError(t, err)
	assert.Empty(t, modules)
}

func TestProxy_CutRejectsBuiltinCollision(t *testing.T) {
	fx := setup(t)
	_, err := fx.proxy.Cut(context.Background(), fx.owner,
		[]FacetCut{NewCut(fx.module, Add, []vm.Selector{vm.Selector(ABI.Methods["owner"].ID)})},
		common.Address{}, nil)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))
}

func TestProxy_CutRejectsModuleWithoutCode(t *testing.T) {
	fx := setup(t)
	_, err := fx.proxy.Cut(context.Background(), fx.owner,
		[]FacetCut{NewCut(testutil.Account("eoa"), Add, selectorsOf("count"))},
		common.Address{}, nil)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))
}

func TestProxy_CutWithInitializer(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	initData, err := counterABI.Pack("init", big.NewInt(41))
	require.NoError(t, err)
	_, err = fx.proxy.Cut(ctx, fx.owner,
		[]FacetCut{NewCut(fx.module, Add, selectorsOf("increment", "count"))},
		fx.module, initData)
	require.NoError(t, err)

	_, err = fx.through().Transact(ctx, fx.owner, nil, "increment")
	require.NoError(t, err)
	assert.Equal(t, int64(42), fx.count(t))
}

func TestProxy_FailingInitializerDiscardsCut(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	initData, err := counterABI.Pack("init", big.NewInt(0))
	require.NoError(t, err)
	r, err := fx.proxy.Cut(ctx, fx.owner,
		[]FacetCut{NewCut(fx.module, Add, selectorsOf("increment", "count"))},
		fx.module, initData)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))
	assert.False(t, r.Committed())
	assert.Empty(t, r.Events)

	modules, err := fx.proxy.FacetAddresses(ctx)
	require.NoError(t, err)
	assert.Empty(t, modules, "route table must be unchanged after a failed initializer")
}

func TestProxy_InitDataWithoutTarget(t *testing.T) {
	fx := setup(t)
	_, err := fx.proxy.Cut(context.Background(), fx.owner,
		[]FacetCut{NewCut(fx.module, Add, selectorsOf("count"))},
		common.Address{}, []byte{0xde, 0xad})
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))
}

func TestProxy_ReplaceAndRemove(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	_, err := fx.proxy.Cut(ctx, fx.owner,
		[]FacetCut{NewCut(fx.module, Add, selectorsOf("increment", "count"))},
		common.Address{}, nil)
	require.NoError(t, err)

	_, err = fx.proxy.Cut(ctx, fx.owner,
		[]FacetCut{NewCut(fx.module2, Replace, selectorsOf("count"))},
		common.Address{}, nil)
	require.NoError(t, err)

	addr, err := fx.proxy.FacetAddress(ctx, selectorsOf("count")[0])
	require.NoError(t, err)
	assert.Equal(t, fx.module2, addr)

	// Same storage regardless of which module answers.
	_, err = fx.through().Transact(ctx, fx.owner, nil, "increment")
	require.NoError(t, err)
	assert.Equal(t, int64(1), fx.count(t))

	_, err = fx.proxy.Cut(ctx, fx.owner,
		[]FacetCut{NewCut(common.Address{}, Remove, selectorsOf("increment"))},
		common.Address{}, nil)
	require.NoError(t, err)

	modules, err := fx.proxy.FacetAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{fx.module2}, modules)

	_, err = fx.through().Transact(ctx, fx.owner, nil, "increment")
	assert.True(t, fault.Is(err, fault.CodeNotFound))
}

func TestProxy_AuthorityFromProxyOwner(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	_, err := fx.proxy.Cut(ctx, fx.owner,
		[]FacetCut{NewCut(fx.module, Add, selectorsOf("increment", "count", "reset"))},
		common.Address{}, nil)
	require.NoError(t, err)
	_, err = fx.through().Transact(ctx, fx.owner, nil, "increment")
	require.NoError(t, err)

	_, err = fx.through().Transact(ctx, testutil.Account("mallory"), nil, "reset")
	assert.True(t, fault.Is(err, fault.CodeUnauthorized))

	_, err = fx.through().Transact(ctx, fx.owner, nil, "reset")
	require.NoError(t, err)
	assert.Zero(t, fx.count(t))

	// Called directly, the module has no owner and authorizes nobody.
	_, err = vm.Bind(fx.e, fx.module, counterABI).Transact(ctx, fx.owner, nil, "reset")
	assert.True(t, fault.Is(err, fault.CodeUnauthorized))
}

func TestProxy_ValueForwardedToModule(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	_, err := fx.proxy.Cut(ctx, fx.owner,
		[]FacetCut{NewCut(fx.module, Add, selectorsOf("increment", "count"))},
		common.Address{}, nil)
	require.NoError(t, err)

	user := testutil.Account("user")
	testutil.Fund(t, fx.e, uint256.NewInt(1000), user)
	_, err = fx.through().Transact(ctx, user, uint256.NewInt(250), "increment")
	require.NoError(t, err)

	assert.Equal(t, uint256.NewInt(250), testutil.Balance(t, fx.e, fx.proxy.Address()))
	assert.Equal(t, uint256.NewInt(750), testutil.Balance(t, fx.e, user))
	assert.True(t, testutil.Balance(t, fx.e, fx.module).IsZero())

	// Plain value transfers to the proxy are refused.
	_, err = fx.e.Call(ctx, vm.Message{From: user, To: fx.proxy.Address(), Value: uint256.NewInt(1)})
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))
}

func TestProxy_TransferOwnership(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	next := testutil.Account("next")

	_, err := fx.proxy.TransferOwnership(ctx, next, next)
	assert.True(t, fault.Is(err, fault.CodeUnauthorized))

	_, err = fx.proxy.TransferOwnership(ctx, fx.owner, common.Address{})
	assert.True(t, fault.Is(err, fault.CodeInvalidArgument))

	r, err := fx.proxy.TransferOwnership(ctx, fx.owner, next)
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	assert.Equal(t, "OwnershipTransferred", r.Events[0].Name)
	assert.Equal(t, ir.Address(fx.owner), r.Events[0].Fields["previousOwner"])

	owner, err := fx.proxy.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, owner)

	_, err = fx.proxy.Cut(ctx, fx.owner,
		[]FacetCut{NewCut(fx.module, Add, selectorsOf("count"))},
		common.Address{}, nil)
	assert.True(t, fault.Is(err, fault.CodeUnauthorized), "previous owner loses cut rights")
}

func TestProxy_Facets(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	_, err := fx.proxy.Cut(ctx, fx.owner, []FacetCut{
		NewCut(fx.module, Add, selectorsOf("increment")),
		NewCut(fx.module2, Add, selectorsOf("count")),
	}, common.Address{}, nil)
	require.NoError(t, err)

	out, err := fx.proxy.Call(ctx, fx.owner, "facets")
	require.NoError(t, err)
	facets := *abi.ConvertType(out[0], new([]Facet)).(*[]Facet)
	require.Len(t, facets, 2)
	assert.Equal(t, fx.module, facets[0].FacetAddress)
	assert.Equal(t, [][4]byte{selectorsOf("increment")[0]}, facets[0].FunctionSelectors)
	assert.Equal(t, fx.module2, facets[1].FacetAddress)
}
