package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dispatch/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// TestResult is the outcome of a scenario suite.
type TestResult struct {
	*harness.SuiteResult
	Scenarios []string `json:"scenarios"`
}

// WriteText renders the result for terminals.
func (r TestResult) WriteText(w io.Writer) {
	if r.TotalScenarios == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	failed := make(map[string]harness.ScenarioFailure, len(r.Failures))
	for _, f := range r.Failures {
		failed[f.ScenarioPath] = f
	}
	for _, path := range r.Scenarios {
		f, ok := failed[path]
		if !ok {
			fmt.Fprintf(w, "✓ %s\n", path)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", path)
		for _, e := range f.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.TotalScenarios)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-path>...",
		Short: "Run YAML scenarios",
		Long: `Run YAML scenarios, each against a fresh in-memory deployment of its
manifest. Directories are searched recursively for .yaml and .yml files.

When golden/<scenario>.golden exists next to a scenario, the run's trace must
match it byte for byte. --update rewrites the snapshots.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing path, bad filter, etc.)

Examples:
  dispatch test ./scenarios
  dispatch test ./scenarios --filter "relayed_*"
  dispatch test ./scenarios/direct_message.yaml --update
  dispatch test ./scenarios --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	files, err := harness.DiscoverScenarios(paths)
	if err != nil {
		var nf *harness.ScenarioNotFoundError
		if errors.As(err, &nf) {
			return f.fail(ExitCommandError, ErrCodeNotFound, nf.Error(), nil)
		}
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to find scenarios", err)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeBadArgs, "invalid --filter", err)
	}

	if files == nil {
		files = []string{}
	}
	result := TestResult{SuiteResult: &harness.SuiteResult{}, Scenarios: files}
	if len(files) > 0 {
		suite, err := harness.RunSuite(ctx, files,
			harness.WithLogger(opts.logger(cmd.ErrOrStderr())),
			harness.WithGoldenFiles(opts.Update),
		)
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeGeneric, "failed to run scenarios", err)
		}
		result.SuiteResult = suite
	}

	if err := f.Success(result); err != nil {
		return err
	}
	if !result.Pass() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.TotalScenarios))
	}
	return nil
}

// filterScenarios keeps files whose name without extension matches pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, err
	}
	var out []string
	for _, path := range files {
		base := filepath.Base(path)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if ok, _ := filepath.Match(pattern, name); ok {
			out = append(out, path)
		}
	}
	return out, nil
}
