package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/batch"
	"golang.org/x/term"
)

func newBackupCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "データベース全体のバックアップとリストアを行います",
	}
	cmd.AddCommand(newBackupCreateCommand(e), newBackupRestoreCommand(e), newBackupListCommand(e))
	return cmd
}

func newBackupCreateCommand(e *env) *cobra.Command {
	var actorID int64
	cmd := &cobra.Command{
		Use:   "create [path]",
		Short: "バックアップファイルを作成します (path を省略した場合は BACKUP_DIR に作成します)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}

			path := filepath.Join(a.Config.Backup.Dir, batch.BackupFileName(e.now()))
			if len(args) == 1 {
				path = args[0]
			}
			if !cmd.Flags().Changed("actor") {
				actorID = a.Config.Backup.ActorID
			}

			info, err := a.Snapshot.CreateBackup(cmd.Context(), path, actorID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().Int64Var(&actorID, "actor", 0, "作成者のユーザーID (未指定の場合は BACKUP_ACTOR_ID)")
	return cmd
}

func newBackupRestoreCommand(e *env) *cobra.Command {
	var (
		actorID int64
		yes     bool
	)
	cmd := &cobra.Command{
		Use:   "restore <path>",
		Short: "バックアップファイルでデータベースの内容を置き換えます",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !yes {
				ok, err := e.confirm(cmd.ErrOrStderr(), fmt.Sprintf("All tables will be replaced with the contents of %s. Continue? [y/N]: ", path))
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}

			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Snapshot.RestoreFromFile(cmd.Context(), path, actorID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored from %s\n", path)
			return nil
		},
	}
	cmd.Flags().Int64Var(&actorID, "actor", 0, "操作するユーザーID")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "確認せずにリストアします")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newBackupListCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "バックアップ履歴を新しい順に表示します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			backups, err := a.Snapshot.ListBackups(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), backups)
		},
	}
}

// confirm は標準入力が端末の場合のみ確認を求めます
// 端末でない場合は --yes なしでは実行しません
func (e *env) confirm(out io.Writer, prompt string) (bool, error) {
	if !e.isTTY() {
		return false, fmt.Errorf("stdin is not a terminal: pass --yes to confirm")
	}

	fmt.Fprint(out, prompt)
	answer, err := bufio.NewReader(e.stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
