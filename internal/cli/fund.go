package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// FundResult reports a faucet mint.
type FundResult struct {
	CallID  string `json:"call_id"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
}

func (r FundResult) String() string {
	return fmt.Sprintf("funded %s with %s wei (balance %s)", r.Account, r.Amount, r.Balance)
}

// NewFundCommand creates the fund command.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <account> <wei>",
		Short: "Mint native value to an account",
		Long: `Mint native value to an account from the local faucet. The mint is
recorded as its own unit of work.

Examples:
  dispatch fund alice 1_000_000_000_000_000_000
  dispatch fund 0x00000000000000000000000000000000000000aa 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFund(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runFund(opts *RootOptions, account, amount string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	wei, err := parseWei(amount)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeBadArgs, "invalid amount", err)
	}

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer s.Close()

	addr, err := s.resolver()(account)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeBadArgs, "invalid account", err)
	}
	r, err := s.engine.Fund(ctx, addr, wei)
	if err != nil {
		return f.fail(ExitFailure, ErrCodeGeneric, "fund failed", err)
	}
	bal, err := s.engine.Balance(ctx, addr)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "read balance", err)
	}
	return f.Success(FundResult{CallID: r.CallID, Account: addr.Hex(), Amount: wei.Dec(), Balance: bal.Dec()})
}
