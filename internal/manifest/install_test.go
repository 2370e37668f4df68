package manifest

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dispatch/internal/diamond"
	"github.com/roach88/dispatch/internal/fault"
	"github.com/roach88/dispatch/internal/ledger"
	"github.com/roach88/dispatch/internal/payrelay"
	"github.com/roach88/dispatch/internal/testutil"
	"github.com/roach88/dispatch/internal/token"
	"github.com/roach88/dispatch/internal/vm"
)

func installTestdata(t *testing.T) (*vm.Engine, *Deployment) {
	t.Helper()
	m, err := Load(filepath.Join("testdata", "deploy.cue"))
	require.NoError(t, err)

	e := testutil.StartEngine(t, Registry())
	d, err := Install(context.Background(), e, m, nil)
	require.NoError(t, err)
	return e, d
}

func TestInstallTestdata(t *testing.T) {
	ctx := context.Background()
	e, d := installTestdata(t)

	proxy := diamond.NewClient(e, d.Proxy)
	owner, err := proxy.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.Account("owner"), owner)

	require.Len(t, d.Modules, 2)
	for _, mod := range d.Modules {
		kind, _ := Lookup(mod.Kind)
		sels, err := proxy.FacetFunctionSelectors(ctx, mod.Address)
		require.NoError(t, err)
		assert.ElementsMatch(t, kind.Routable(), sels, "module %s routes every routable method", mod.Name)
	}

	relayer, err := d.Query(ctx, e, owner, d.Proxy, "relayer", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, testutil.Account("relayer"), relayer[0])

	bps, err := payrelay.NewClient(e, d.Proxy).TransactionFeePercent(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bps)

	require.Len(t, d.Tokens, 1)
	usd := token.NewClient(e, d.Tokens[0].Address)
	allowance, err := usd.Allowance(ctx, testutil.Account("alice"), d.Proxy)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1_000_000), allowance)

	assert.Equal(t, testutil.Ether(1), testutil.Balance(t, e, testutil.Account("relayer")))
}

func TestInstallInitializesThroughCut(t *testing.T) {
	ctx := context.Background()
	e, d := installTestdata(t)

	ledgerOwner, err := ledger.NewClient(e, d.Proxy).Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.Account("owner"), ledgerOwner)

	mod, ok := d.Module("ledger")
	require.True(t, ok)
	solo := ledger.NewClient(e, mod.Address)
	standaloneOwner, err := solo.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.Account("owner"), standaloneOwner, "the standalone instance is claimed for the owner")

	relayer, err := solo.Relayer(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, relayer, "setup runs in the proxy's storage, not the module's")
}

func TestInstallClaimsStandaloneModules(t *testing.T) {
	ctx := context.Background()
	e, d := installTestdata(t)
	mallory := testutil.Account("mallory")

	for _, mod := range d.Modules {
		kind, _ := Lookup(mod.Kind)
		input, err := kind.ABI.Pack("init", mallory)
		require.NoError(t, err)
		_, err = e.Call(ctx, vm.Message{From: mallory, To: mod.Address, Input: input})
		assert.True(t, fault.Is(err, fault.CodeAlreadyInitialized), "module %s", mod.Name)
	}

	relay, ok := d.Module("relay")
	require.True(t, ok)
	relayOwner, err := payrelay.NewClient(e, relay.Address).Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.Account("owner"), relayOwner)
}

func TestDeploymentInvoke(t *testing.T) {
	ctx := context.Background()
	e, d := installTestdata(t)
	alice, bob := testutil.Account("alice"), testutil.Account("bob")

	out, err := d.Query(ctx, e, alice, d.Proxy, "computeConversationId", []string{"alice", "bob"}, nil)
	require.NoError(t, err)
	id := common.Hash(out[0].([32]byte))

	before := testutil.Balance(t, e, bob)
	r, _, err := d.Invoke(ctx, e, alice, d.Proxy, uint256.NewInt(1000), "sendNative",
		[]string{id.Hex(), "bob", "ipfs://x", "0x01", "0", "0x02"}, nil)
	require.NoError(t, err)
	require.True(t, r.Committed())

	after := testutil.Balance(t, e, bob)
	assert.Equal(t, uint256.NewInt(990), new(uint256.Int).Sub(after, before))

	out, err = d.Query(ctx, e, alice, d.Proxy, "accumulatedFees", []string{"0x0000000000000000000000000000000000000000"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out[0].(*big.Int).Cmp(big.NewInt(10)))
}

func TestDeploymentResolver(t *testing.T) {
	_, d := installTestdata(t)
	res := d.Resolver(nil)

	addr, err := res("$proxy")
	require.NoError(t, err)
	assert.Equal(t, d.Proxy, addr)

	addr, err = res("$token.usd")
	require.NoError(t, err)
	assert.Equal(t, d.Tokens[0].Address, addr)

	mod, _ := d.Module("relay")
	addr, err = res("$module.relay")
	require.NoError(t, err)
	assert.Equal(t, mod.Address, addr)

	addr, err = res("carol")
	require.NoError(t, err)
	assert.Equal(t, testutil.Account("carol"), addr)

	_, err = res("$module.vault")
	require.Error(t, err)
}

func TestDeploymentLabelsRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, d := installTestdata(t)

	kindOf := func(addr common.Address) string {
		kind, err := e.CodeKind(ctx, addr)
		require.NoError(t, err)
		return kind
	}
	rebuilt := FromLabels(d.Labels(), kindOf)

	assert.Equal(t, d.Proxy, rebuilt.Proxy)
	assert.ElementsMatch(t, d.Modules, rebuilt.Modules)
	assert.ElementsMatch(t, d.Tokens, rebuilt.Tokens)
	assert.Equal(t, []string{diamond.Kind, ledger.Kind, payrelay.Kind}, rebuilt.ProxyKinds())
}

func TestDeploymentMethodOutsideDeployment(t *testing.T) {
	_, d := installTestdata(t)
	_, err := d.Method(testutil.Account("stranger"), "owner")
	require.Error(t, err)
}

func TestInstallSelectedSelectors(t *testing.T) {
	ctx := context.Background()
	m, err := Parse([]byte(`
owner: "owner"
modules: relay: {
	kind:      "payment-relay"
	selectors: ["computeConversationId"]
	init:      false
}
`), "partial.cue")
	require.NoError(t, err)

	e := testutil.StartEngine(t, Registry())
	d, err := Install(ctx, e, m, nil)
	require.NoError(t, err)

	sels, err := diamond.NewClient(e, d.Proxy).FacetFunctionSelectors(ctx, d.Modules[0].Address)
	require.NoError(t, err)
	assert.Equal(t, []vm.Selector{vm.Selector(payrelay.ABI.Methods["computeConversationId"].ID)}, sels)

	// Not routed, so the proxy has nowhere to send it.
	_, err = d.Query(ctx, e, testutil.Account("owner"), d.Proxy, "transactionFeePercent", nil, nil)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeNotFound))
}

func TestInstallStopsAtFailingSetup(t *testing.T) {
	m, err := Parse([]byte(`
owner: "owner"
modules: relay: kind: "payment-relay"
setup: [{from: "mallory", method: "setTransactionFee", args: ["10"]}]
`), "unauthorized.cue")
	require.NoError(t, err)

	e := testutil.StartEngine(t, Registry())
	_, err = Install(context.Background(), e, m, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup[0] setTransactionFee")

	var fe *fault.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, fault.CodeUnauthorized, fe.Code)
}

func TestInstallRejectsBadInitArgs(t *testing.T) {
	m, err := Parse([]byte(`
modules: l: {kind: "message-ledger", initArgs: ["a", "b"]}
`), "initargs.cue")
	require.NoError(t, err)

	e := testutil.StartEngine(t, Registry())
	_, err = Install(context.Background(), e, m, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install module l")
}
