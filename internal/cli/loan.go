package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uma-arai/sbcntr-ludoteca/internal/app"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
)

func newLoanCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loan",
		Short: "貸出リクエストを操作します",
	}
	cmd.AddCommand(
		newLoanRequestCommand(e),
		newLoanTransitionCommand(e, "confirm", "貸出リクエストを承認します", func(ctx context.Context, a *app.App, id int64) (*model.Loan, error) {
			return a.Borrowing.Confirm(ctx, id)
		}),
		newLoanTransitionCommand(e, "decline", "貸出リクエストを却下します", func(ctx context.Context, a *app.App, id int64) (*model.Loan, error) {
			return a.Borrowing.Decline(ctx, id)
		}),
		newLoanReturnCommand(e),
		newLoanShowCommand(e),
		newLoanListCommand(e),
		newLoanSweepCommand(e),
	)
	return cmd
}

func newLoanRequestCommand(e *env) *cobra.Command {
	var (
		holdingID  int64
		borrowerID int64
		start      string
		end        string
	)
	cmd := &cobra.Command{
		Use:   "request",
		Short: "貸出リクエストを作成します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			endDate, err := parseDateFlag("end", end)
			if err != nil {
				return err
			}

			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			loan, err := a.Borrowing.Request(cmd.Context(), holdingID, borrowerID, startDate, endDate)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loan)
		},
	}
	cmd.Flags().Int64Var(&holdingID, "holding", 0, "在庫ID")
	cmd.Flags().Int64Var(&borrowerID, "borrower", 0, "借り手のユーザーID")
	cmd.Flags().StringVar(&start, "start", "", "貸出開始日 (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "貸出終了日 (YYYY-MM-DD)")
	for _, name := range []string{"holding", "borrower", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newLoanTransitionCommand(
	e *env,
	use, short string,
	do func(ctx context.Context, a *app.App, id int64) (*model.Loan, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <loan-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			loan, err := do(cmd.Context(), a, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loan)
		},
	}
}

func newLoanReturnCommand(e *env) *cobra.Command {
	var actorID int64
	cmd := newLoanTransitionCommand(e, "return", "貸出を返却済みにします", func(ctx context.Context, a *app.App, id int64) (*model.Loan, error) {
		return a.Borrowing.Return(ctx, id, actorID)
	})
	cmd.Flags().Int64Var(&actorID, "actor", 0, "操作するユーザーID (オーナーまたは借り手)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newLoanShowCommand(e *env) *cobra.Command {
	return newLoanTransitionCommand(e, "show", "貸出リクエストを表示します", func(ctx context.Context, a *app.App, id int64) (*model.Loan, error) {
		return a.Borrowing.Get(ctx, id)
	})
}

func newLoanListCommand(e *env) *cobra.Command {
	var borrowerID, holdingID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "借り手または在庫ごとの貸出リクエストを一覧表示します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (borrowerID == 0) == (holdingID == 0) {
				return fmt.Errorf("specify exactly one of --borrower or --holding")
			}

			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}

			var loans []model.Loan
			if borrowerID != 0 {
				loans, err = a.Borrowing.ListByBorrower(cmd.Context(), borrowerID)
			} else {
				loans, err = a.Borrowing.ListByHolding(cmd.Context(), holdingID)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loans)
		},
	}
	cmd.Flags().Int64Var(&borrowerID, "borrower", 0, "借り手のユーザーID")
	cmd.Flags().Int64Var(&holdingID, "holding", 0, "在庫ID")
	return cmd
}

func newLoanSweepCommand(e *env) *cobra.Command {
	var graceDays int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "開始日を過ぎても承認されていない貸出リクエストを却下します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("grace-days") {
				graceDays = a.Config.LoanSweep.GraceDays
			}

			declined, err := a.Borrowing.SweepStale(cmd.Context(), e.now(), graceDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d loan requests declined\n", len(declined))
			return nil
		},
	}
	cmd.Flags().IntVar(&graceDays, "grace-days", 0, "開始日から却下までの猶予日数 (未指定の場合は LOAN_SWEEP_GRACE_DAYS)")
	return cmd
}
