package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/roach88/dispatch/internal/manifest"
	"github.com/roach88/dispatch/internal/state"
	"github.com/roach88/dispatch/internal/store"
	"github.com/roach88/dispatch/internal/vm"
)

// session is an engine resumed from the database, running until Close.
type session struct {
	store      *store.Store
	engine     *vm.Engine
	deployment *manifest.Deployment // nil until something is deployed
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// openSession loads the persisted world into a fresh engine and starts its
// loop. Every unit of work the session executes is written back through the
// store.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	logger := opts.logger(cmd.ErrOrStderr())

	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := state.New()
	if err := st.LoadState(ctx, db); err != nil {
		st.Close()
		return nil, err
	}
	last, err := st.LastSeq(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	labels, err := st.Labels(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	s := &session{store: st, logger: logger, done: make(chan struct{})}

	// The state is not shared with the engine loop yet, so kinds are read
	// directly.
	if _, ok := labels[manifest.LabelProxy]; ok {
		addrs := make(map[string]common.Address, len(labels))
		for name, hex := range labels {
			addrs[name] = common.HexToAddress(hex)
		}
		s.deployment = manifest.FromLabels(addrs, db.GetCode)
	}

	s.engine = vm.New(manifest.Registry(),
		vm.WithState(db),
		vm.WithClock(vm.NewClockAt(last)),
		vm.WithSink(st),
		vm.WithMaxDepth(opts.Config.MaxCallDepth),
		vm.WithLogger(logger),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.done)
		if err := s.engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine error", "error", err)
		}
	}()

	logger.Debug("session opened", "db", opts.Database, "seq", last, "deployed", s.deployment != nil)
	return s, nil
}

// Close stops the engine and closes the database.
func (s *session) Close() {
	s.cancel()
	<-s.done
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

// requireDeployment returns the recorded deployment.
func (s *session) requireDeployment() (*manifest.Deployment, error) {
	if s.deployment == nil {
		return nil, errors.New("no deployment recorded; run deploy first")
	}
	return s.deployment, nil
}

// resolver resolves dev names, hex addresses and deployment references.
func (s *session) resolver() vm.AddressResolver {
	if s.deployment == nil {
		return vm.ResolveAddress
	}
	return s.deployment.Resolver(nil)
}

// saveDeployment records the deployment's labels.
func (s *session) saveDeployment(ctx context.Context, d *manifest.Deployment) error {
	for name, addr := range d.Labels() {
		if err := s.store.SetLabel(ctx, name, addr.Hex()); err != nil {
			return err
		}
	}
	s.deployment = d
	return nil
}

// commandContext returns the command's context, or Background outside
// Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// requireFile fails with ErrCodeNotFound when path does not exist.
func requireFile(f *OutputFormatter, path, what string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return f.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("%s not found: %s", what, path), nil)
	}
	return nil
}
