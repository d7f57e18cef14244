package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-ludoteca/internal/app"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
)

var errNoDB = errors.New("database is not available in this test")

// newTestEnv はDBに接続しない env を作成します
// App が必要なコマンドを実行すると errNoDB を返します
func newTestEnv(stdin string, tty bool) (*env, *int) {
	loads := 0
	return &env{
		loadApp: func(ctx context.Context) (*app.App, error) {
			loads++
			return nil, errNoDB
		},
		now:   func() time.Time { return time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC) },
		stdin: strings.NewReader(stdin),
		isTTY: func() bool { return tty },
	}, &loads
}

func run(e *env, args ...string) (string, error) {
	root := NewRootCommand(e)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"成功", nil, ExitOK},
		{"入力エラー", model.ErrDateInPast, ExitValidation},
		{"競合", fmt.Errorf("request: %w", model.ErrNoCopiesAvailable), ExitConflict},
		{"見つからない", model.ErrLoanNotFound, ExitConflict},
		{"形式エラー", model.ErrTruncated, ExitIntegrity},
		{"挿入エラー", &model.TableError{Op: model.TableOpInsert, Table: "users", Err: errors.New("x")}, ExitIntegrity},
		{"インフラのエラー", errors.New("connection refused"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestCommandTree(t *testing.T) {
	e, _ := newTestEnv("", false)
	root := NewRootCommand(e)

	for _, path := range [][]string{
		{"migrate"},
		{"holding", "add"}, {"holding", "resize"}, {"holding", "remove"},
		{"loan", "request"}, {"loan", "confirm"}, {"loan", "decline"}, {"loan", "return"}, {"loan", "show"},
		{"loan", "list"}, {"loan", "sweep"},
		{"backup", "create"}, {"backup", "restore"}, {"backup", "list"},
		{"logs", "archive"}, {"logs", "import"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

// 引数の誤りはDBに接続する前に検出すること
func TestArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"IDが数値でない", []string{"loan", "confirm", "abc"}},
		{"IDが0", []string{"holding", "remove", "0"}},
		{"部数が数値でない", []string{"holding", "resize", "1", "many"}},
		{"日付の形式", []string{"loan", "request", "--holding", "1", "--borrower", "2", "--start", "10/05/2024", "--end", "2024-05-12"}},
		{"必須フラグなし", []string{"loan", "return", "3"}},
		{"一覧の条件なし", []string{"loan", "list"}},
		{"引数の数", []string{"backup", "restore"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, loads := newTestEnv("", false)

			_, err := run(e, tt.args...)

			require.Error(t, err)
			assert.NotErrorIs(t, err, errNoDB)
			assert.Zero(t, *loads)
		})
	}
}

func TestRestoreConfirmation(t *testing.T) {
	t.Run("端末でない場合は --yes が必要", func(t *testing.T) {
		e, loads := newTestEnv("y\n", false)

		_, err := run(e, "backup", "restore", "backup.bin", "--actor", "1")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "--yes")
		assert.Zero(t, *loads)
	})

	t.Run("確認で中止", func(t *testing.T) {
		e, loads := newTestEnv("n\n", true)

		out, err := run(e, "backup", "restore", "backup.bin", "--actor", "1")

		assert.ErrorIs(t, err, errAborted)
		assert.Contains(t, out, "Continue? [y/N]")
		assert.Zero(t, *loads)
	})

	t.Run("確認で続行", func(t *testing.T) {
		e, loads := newTestEnv("yes\n", true)

		_, err := run(e, "backup", "restore", "backup.bin", "--actor", "1")

		assert.ErrorIs(t, err, errNoDB)
		assert.Equal(t, 1, *loads)
	})

	t.Run("--yes なら確認しない", func(t *testing.T) {
		e, loads := newTestEnv("", false)

		out, err := run(e, "backup", "restore", "backup.bin", "--actor", "1", "--yes")

		assert.ErrorIs(t, err, errNoDB)
		assert.NotContains(t, out, "Continue?")
		assert.Equal(t, 1, *loads)
	})
}
