package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dispatch/internal/manifest"
)

// LoadError is a manifest error with its CUE source position, if known.
type LoadError struct {
	Code    string
	Message string
	File    string
	Line    int
	Column  int
}

func (e *LoadError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.File, e.Line, e.Column, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// loadManifest loads a manifest, converting compile errors to LoadErrors.
func loadManifest(path string) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err == nil {
		return m, nil
	}
	var ce *manifest.CompileError
	if errors.As(err, &ce) {
		le := &LoadError{Code: ErrCodeLoadFailed, Message: ce.Field + ": " + ce.Message}
		if ce.Pos.IsValid() {
			le.File, le.Line, le.Column = ce.Pos.Filename(), ce.Pos.Line(), ce.Pos.Column()
		}
		return nil, le
	}
	return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// DeployResult describes an installed deployment.
type DeployResult struct {
	Proxy   string          `json:"proxy"`
	Owner   string          `json:"owner"`
	Modules []InstalledInfo `json:"modules"`
	Tokens  []InstalledInfo `json:"tokens,omitempty"`
}

// InstalledInfo is one deployed module or token.
type InstalledInfo struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Address string `json:"address"`
}

// WriteText renders the deployment for terminals.
func (r DeployResult) WriteText(w io.Writer) {
	fmt.Fprintf(w, "proxy   %s (owner %s)\n", r.Proxy, r.Owner)
	for _, m := range r.Modules {
		fmt.Fprintf(w, "module  %-10s %-16s %s\n", m.Name, m.Kind, m.Address)
	}
	for _, t := range r.Tokens {
		fmt.Fprintf(w, "token   %-10s %-16s %s\n", t.Name, t.Kind, t.Address)
	}
}

func newDeployResult(d *manifest.Deployment, owner string) DeployResult {
	r := DeployResult{Proxy: d.Proxy.Hex(), Owner: owner, Modules: []InstalledInfo{}}
	for _, m := range d.Modules {
		r.Modules = append(r.Modules, InstalledInfo{Name: m.Name, Kind: m.Kind, Address: m.Address.Hex()})
	}
	for _, t := range d.Tokens {
		r.Tokens = append(r.Tokens, InstalledInfo{Name: t.Name, Kind: t.Kind, Address: t.Address.Hex()})
	}
	return r
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <manifest>",
		Short: "Install a deployment manifest",
		Long: `Install a CUE deployment manifest into the database.

Funds the listed accounts, deploys the proxy and helper tokens, deploys each
module and routes it through its own cut (running its initializer), then
replays the setup calls. The resulting addresses are remembered as labels
($proxy, $module.<name>, $token.<name>) for later commands.

Exit codes:
  0 - Deployment installed
  1 - An install step reverted
  2 - Command error (bad manifest, already deployed, etc.)

Examples:
  dispatch deploy ./deploy.cue --db ./dispatch.db
  dispatch deploy ./deploy.cue --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(rootOpts, args[0], cmd)
		},
	}
}

func runDeploy(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	if err := requireFile(f, path, "manifest"); err != nil {
		return err
	}
	m, err := loadManifest(path)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLoadFailed, "invalid manifest", err)
	}

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer s.Close()

	if s.deployment != nil {
		return f.fail(ExitCommandError, ErrCodeDeployed,
			fmt.Sprintf("database already holds a deployment at %s", s.deployment.Proxy.Hex()), nil)
	}

	f.VerboseLog("installing %d module(s), %d token(s)", len(m.Modules), len(m.Tokens))
	d, err := manifest.Install(ctx, s.engine, m, nil)
	if err != nil {
		if outErr := f.Fault(err); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "install failed", err)
	}
	if err := s.saveDeployment(ctx, d); err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to record deployment", err)
	}
	s.logger.Info("deployment installed", "proxy", d.Proxy.Hex(), "modules", len(d.Modules))
	return f.Success(newDeployResult(d, m.Owner))
}
