package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"dailybudget/internal/core"
	"dailybudget/internal/pointer"
)

// Budget is the slice of the budget service bdbctl drives.
type Budget interface {
	CreateAccount(ctx context.Context, balance core.Money, payday time.Time) (core.Account, error)
	GetSummary(ctx context.Context, accountID int64) (core.Summary, error)
	AddSpend(ctx context.Context, accountID int64, amount core.Money, label string) (core.Spend, error)
	UpdatePayday(ctx context.Context, accountID int64, newPayday time.Time) (core.Account, error)
	UpdateBalance(ctx context.Context, accountID int64, newBalance core.Money) (core.Account, error)
	DeleteAccount(ctx context.Context, accountID int64) error
	DeleteSpend(ctx context.Context, spendID int64) error
}

// App is what a command needs once the backend is open.
type App struct {
	Budget  Budget
	Pointer pointer.Pointer
}

// Opener opens the backend for a single command run. The returned func
// releases it.
type Opener func(ctx context.Context) (*App, func() error, error)

var errNoActiveAccount = errors.New("no active account; pass --account or run 'bdbctl account use ID'")

// NewRootCommand builds the bdbctl command tree.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "bdbctl",
		Short:         "Manage daily budget accounts and spends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		accountCmd(open),
		spendCmd(open),
		summaryCmd(open),
	)
	return root
}

// run opens the backend, runs fn and always releases the backend.
func run(cmd *cobra.Command, open Opener, fn func(ctx context.Context, app *App, out io.Writer) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, closeFn, err := open(ctx)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer func() {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, app, cmd.OutOrStdout())
}

func accountCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create, select, update and delete accounts",
	}
	cmd.AddCommand(
		accountCreateCmd(open),
		accountUseCmd(open),
		accountDeleteCmd(open),
		accountPaydayCmd(open),
		accountBalanceCmd(open),
	)
	return cmd
}

func accountCreateCmd(open Opener) *cobra.Command {
	var (
		balance  string
		payday   string
		activate bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account from a balance and the next payday",
		Long: `Create an account. The daily allowance is the balance divided by the
whole days left until payday.

Examples:
  bdbctl account create --balance 30.00 --payday 2026-11-01
  bdbctl account create --balance 1200,50 --payday 2026-11-27T09:00:00Z --activate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := core.ParseDecimalToCents(balance)
			if err != nil {
				return fmt.Errorf("%w: %q", core.ErrInvalidBalance, balance)
			}
			day, err := core.ParseInstant(payday)
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrInvalidPayday, err)
			}
			return run(cmd, open, func(ctx context.Context, app *App, out io.Writer) error {
				acct, err := app.Budget.CreateAccount(ctx, core.Money{Cents: cents}, day)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "account %d created: daily allowance %d until %s\n",
					acct.ID, acct.DailyAllowance.Cents, acct.NextPayday.Format(time.RFC3339))
				if !activate {
					return nil
				}
				if err := app.Pointer.Write(ctx, acct.ID); err != nil {
					return fmt.Errorf("activate account %d: %w", acct.ID, err)
				}
				fmt.Fprintf(out, "active account: %d\n", acct.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&balance, "balance", "", "starting balance, e.g. 30.00")
	cmd.Flags().StringVar(&payday, "payday", "", "next payday, YYYY-MM-DD or RFC 3339")
	cmd.Flags().BoolVar(&activate, "activate", false, "make the new account the active one")
	_ = cmd.MarkFlagRequired("balance")
	_ = cmd.MarkFlagRequired("payday")
	return cmd
}

func accountUseCmd(open Opener) *cobra.Command {
	var clearActive bool
	cmd := &cobra.Command{
		Use:   "use [ID]",
		Short: "Select the active account",
		Long: `Select the active account. --clear (or an id of -1, given after --)
leaves no account selected.

Examples:
  bdbctl account use 3
  bdbctl account use --clear`,
		Args: cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := core.NoAccount
			switch {
			case clearActive && len(args) > 0:
				return errors.New("pass either an id or --clear")
			case len(args) == 1:
				var err error
				if id, err = parseID(args[0]); err != nil {
					return err
				}
			case !clearActive:
				return errors.New("an account id or --clear is required")
			}
			return run(cmd, open, func(ctx context.Context, app *App, out io.Writer) error {
				if id != core.NoAccount {
					if _, err := app.Budget.GetSummary(ctx, id); err != nil {
						return err
					}
				}
				if err := app.Pointer.Write(ctx, id); err != nil {
					return fmt.Errorf("write active account: %w", err)
				}
				fmt.Fprintf(out, "active account: %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearActive, "clear", false, "clear the active account")
	return cmd
}

func accountDeleteCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an account and all of its spends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, app *App, out io.Writer) error {
				if err := app.Budget.DeleteAccount(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(out, "account %d deleted\n", id)

				active, err := app.Pointer.Read(ctx)
				if err != nil {
					return fmt.Errorf("read active account: %w", err)
				}
				if active == id {
					if err := app.Pointer.Write(ctx, core.NoAccount); err != nil {
						return fmt.Errorf("clear active account: %w", err)
					}
					fmt.Fprintln(out, "active account cleared")
				}
				return nil
			})
		},
	}
}

func accountPaydayCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "payday ID DATE",
		Short: "Move an account's next payday without recomputing the allowance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			day, err := core.ParseInstant(args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrInvalidPayday, err)
			}
			return run(cmd, open, func(ctx context.Context, app *App, out io.Writer) error {
				acct, err := app.Budget.UpdatePayday(ctx, id, day)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "account %d: next payday %s\n", acct.ID, acct.NextPayday.Format(time.RFC3339))
				return nil
			})
		},
	}
}

func accountBalanceCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "balance ID AMOUNT",
		Short: "Recompute the daily allowance from a new balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cents, err := core.ParseDecimalToCents(args[1])
			if err != nil {
				return fmt.Errorf("%w: %q", core.ErrInvalidBalance, args[1])
			}
			return run(cmd, open, func(ctx context.Context, app *App, out io.Writer) error {
				acct, err := app.Budget.UpdateBalance(ctx, id, core.Money{Cents: cents})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "account %d: daily allowance %d\n", acct.ID, acct.DailyAllowance.Cents)
				return nil
			})
		},
	}
}

func spendCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spend",
		Short: "Log and remove spends",
	}
	cmd.AddCommand(spendAddCmd(open), spendDeleteCmd(open))
	return cmd
}

func spendAddCmd(open Opener) *cobra.Command {
	var (
		label   string
		account int64
	)
	cmd := &cobra.Command{
		Use:   "add AMOUNT",
		Short: "Log a spend against the active account (or --account)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := core.ParseDecimalToCents(args[0])
			if err != nil {
				return fmt.Errorf("%w: %q", core.ErrInvalidAmount, args[0])
			}
			return run(cmd, open, func(ctx context.Context, app *App, out io.Writer) error {
				id, err := resolveAccount(ctx, app, account)
				if err != nil {
					return err
				}
				sp, err := app.Budget.AddSpend(ctx, id, core.Money{Cents: cents}, label)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "spend %d added to account %d: %d %s\n", sp.ID, sp.AccountID, sp.Amount.Cents, sp.Label)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "what the money was spent on")
	cmd.Flags().Int64Var(&account, "account", core.NoAccount, "account id (defaults to the active account)")
	return cmd
}

func spendDeleteCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a spend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, open, func(ctx context.Context, app *App, out io.Writer) error {
				if err := app.Budget.DeleteSpend(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(out, "spend %d deleted\n", id)
				return nil
			})
		},
	}
}

func summaryCmd(open Opener) *cobra.Command {
	var account int64
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the allowance, payday and spends of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, open, func(ctx context.Context, app *App, out io.Writer) error {
				id, err := resolveAccount(ctx, app, account)
				if err != nil {
					return err
				}
				sum, err := app.Budget.GetSummary(ctx, id)
				if err != nil {
					return err
				}
				printSummary(out, id, sum)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&account, "account", core.NoAccount, "account id (defaults to the active account)")
	return cmd
}

func printSummary(out io.Writer, id int64, sum core.Summary) {
	fmt.Fprintf(out, "account:         %d\n", id)
	fmt.Fprintf(out, "daily allowance: %d\n", sum.DailyAllowance.Cents)
	fmt.Fprintf(out, "next payday:     %s\n", sum.NextPayday.Format(time.RFC3339))
	if len(sum.Spends) == 0 {
		fmt.Fprintln(out, "no spends")
		return
	}
	for _, sp := range sum.Spends {
		fmt.Fprintf(out, "%6d  %s  %8d  %s\n", sp.ID, sp.Date.Format(time.RFC3339), sp.Amount.Cents, sp.Label)
	}
}

// resolveAccount returns flagID when set, the active account otherwise.
func resolveAccount(ctx context.Context, app *App, flagID int64) (int64, error) {
	if flagID != core.NoAccount {
		return flagID, nil
	}
	id, err := app.Pointer.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("read active account: %w", err)
	}
	if id == core.NoAccount {
		return 0, errNoActiveAccount
	}
	return id, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
