package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dispatch/internal/vm"
)

// Account derives the stable dev account address for a name.
func Account(name string) common.Address {
	return vm.DevAccount(name)
}

// Ether returns n whole units of the native currency in wei.
func Ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

// DiscardLogger is a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StartEngine runs a deterministic engine over reg for the duration of the
// test: sequential call ids, a stopped clock at Epoch and a silent logger.
// Extra options are applied last.
func StartEngine(t *testing.T, reg *vm.Registry, opts ...vm.Option) *vm.Engine {
	t.Helper()
	clock := NewDeterministicTime(Epoch)
	base := []vm.Option{
		vm.WithTimeSource(clock.Now),
		vm.WithCallIDGenerator(vm.NewSequentialGenerator("call")),
		vm.WithLogger(DiscardLogger()),
	}
	e := vm.New(reg, append(base, opts...)...)

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

// Fund mints amount to each account.
func Fund(t *testing.T, e *vm.Engine, amount *uint256.Int, accounts ...common.Address) {
	t.Helper()
	for _, a := range accounts {
		_, err := e.Fund(context.Background(), a, amount)
		require.NoError(t, err)
	}
}

// Balance reads a committed native balance.
func Balance(t *testing.T, e *vm.Engine, addr common.Address) *uint256.Int {
	t.Helper()
	bal, err := e.Balance(context.Background(), addr)
	require.NoError(t, err)
	return bal
}
