package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "操作ログのアーカイブと取り込みを行います",
	}
	cmd.AddCommand(newLogsArchiveCommand(e), newLogsImportCommand(e))
	return cmd
}

func newLogsArchiveCommand(e *env) *cobra.Command {
	var (
		from    string
		to      string
		out     string
		actorID int64
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "期間内の操作ログをファイルに書き出し、DBから削除します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromDate, err := parseDateFlag("from", from)
			if err != nil {
				return err
			}
			toDate, err := parseDateFlag("to", to)
			if err != nil {
				return err
			}

			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.LogArchive.Archive(cmd.Context(), fromDate, toDate, out, actorID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d logs archived to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "開始日 (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "終了日 (YYYY-MM-DD、この日を含む)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "書き出すファイル")
	cmd.Flags().Int64Var(&actorID, "actor", 0, "操作するユーザーID")
	for _, name := range []string{"from", "to", "out", "actor"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newLogsImportCommand(e *env) *cobra.Command {
	var actorID int64
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "アーカイブファイルの操作ログを取り込みます",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.LogArchive.Import(cmd.Context(), args[0], actorID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d logs imported from %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().Int64Var(&actorID, "actor", 0, "操作するユーザーID")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
