// Package cli は管理用コマンド (sbcntr-admin) の実装です
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/uma-arai/sbcntr-ludoteca/internal/app"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/config"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/utils"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
)

// 終了コード
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
	ExitConflict   = 3
	ExitIntegrity  = 4
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ExitCode はエラーの分類に応じた終了コードを返します
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch model.KindOf(err) {
	case model.KindValidation:
		return ExitValidation
	case model.KindConflict:
		return ExitConflict
	case model.KindIntegrity:
		return ExitIntegrity
	}
	return ExitFailure
}

// env はコマンド間で共有する状態です
// App はDBが必要なコマンドが最初に呼んだときに作成します
type env struct {
	loadApp func(ctx context.Context) (*app.App, error)
	app     *app.App
	now     func() time.Time
	stdin   io.Reader
	isTTY   func() bool
}

func (e *env) App(ctx context.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	a, err := e.loadApp(ctx)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

func (e *env) close() {
	if e.app != nil {
		_ = e.app.Close()
	}
}

func defaultEnv() *env {
	return &env{
		loadApp: func(ctx context.Context) (*app.App, error) {
			cfg, err := config.LoadConfig("")
			if err != nil {
				return nil, err
			}
			if err := logger.Initialize(logger.Config{Debug: cfg.Debug, SentryDSN: cfg.SentryDSN}); err != nil {
				return nil, fmt.Errorf("failed to initialize logger: %w", err)
			}
			return app.New(ctx, cfg)
		},
		now:   time.Now,
		stdin: os.Stdin,
		isTTY: stdinIsTerminal,
	}
}

// NewRootCommand はコマンドツリーを作成します
func NewRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "sbcntr-admin",
		Short:         "ボードゲーム貸出ライブラリの管理コマンド",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMigrateCommand(e),
		newHoldingCommand(e),
		newLoanCommand(e),
		newBackupCommand(e),
		newLogsCommand(e),
	)
	return root
}

// Execute はコマンドを実行し、終了コードを返します
func Execute() int {
	e := defaultEnv()
	defer e.close()
	defer logger.Sync(2 * time.Second)

	root := NewRootCommand(e)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitOK
}

func newMigrateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "テーブルを作成します (作成済みのテーブルは変更しません)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			if err := repository.ApplySchema(cmd.Context(), a.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseDateFlag(name, value string) (time.Time, error) {
	t, err := utils.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
	}
	return t, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := jsonAPI.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

var errAborted = errors.New("aborted")
