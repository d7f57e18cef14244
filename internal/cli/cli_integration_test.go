package cli

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-ludoteca/internal/app"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/config"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/testutil/pgtest"
)

func TestMain(m *testing.M) {
	pgtest.Main(m)
}

func TestAdminCommands(t *testing.T) {
	db := pgtest.DB(t)
	owner := pgtest.SeedUser(t, db, "owner")
	borrower := pgtest.SeedUser(t, db, "borrower")
	game := pgtest.SeedGame(t, db, "Catan")

	cfg := &config.Config{}
	cfg.Backup.Passphrase = config.DefaultBackupPassphrase
	cfg.Backup.LogArchivePassphrase = config.DefaultLogArchivePassphrase
	cfg.Backup.Dir = t.TempDir()
	cfg.Backup.ActorID = owner

	today := time.Now()
	e := &env{
		loadApp: func(ctx context.Context) (*app.App, error) {
			return app.Wire(cfg, db), nil
		},
		now:   func() time.Time { return today },
		stdin: strings.NewReader(""),
		isTTY: func() bool { return false },
	}

	_, err := run(e, "migrate")
	require.NoError(t, err)

	out, err := run(e, "holding", "add", "--owner", itoa(owner), "--game", itoa(game), "--copies", "1")
	require.NoError(t, err)
	var holding model.Holding
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &holding))
	assert.Equal(t, 1, holding.AvailableCopies)

	start := today.Format(time.DateOnly)
	end := today.AddDate(0, 0, 3).Format(time.DateOnly)
	out, err = run(e, "loan", "request", "--holding", itoa(holding.ID), "--borrower", itoa(borrower), "--start", start, "--end", end)
	require.NoError(t, err)
	var loan model.Loan
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &loan))
	assert.Equal(t, model.LoanStatusRequested, loan.Status)

	_, err = run(e, "loan", "request", "--holding", itoa(holding.ID), "--borrower", itoa(borrower), "--start", start, "--end", end)
	assert.ErrorIs(t, err, model.ErrNoCopiesAvailable)
	assert.Equal(t, ExitConflict, ExitCode(err))

	_, err = run(e, "loan", "confirm", itoa(loan.ID))
	require.NoError(t, err)

	_, err = run(e, "holding", "remove", itoa(holding.ID))
	assert.ErrorIs(t, err, model.ErrHasActiveLoans)

	_, err = run(e, "loan", "return", itoa(loan.ID), "--actor", itoa(borrower))
	require.NoError(t, err)
	_, available := pgtest.Holding(t, db, holding.ID)
	assert.Equal(t, 1, available)

	out, err = run(e, "backup", "create")
	require.NoError(t, err)
	var info model.BackupInfo
	require.NoError(t, jsonAPI.Unmarshal([]byte(out), &info))
	assert.Equal(t, cfg.Backup.Dir, filepath.Dir(info.FilePath))
	assert.Equal(t, owner, info.CreatedBy)

	_, err = run(e, "holding", "resize", itoa(holding.ID), "5")
	require.NoError(t, err)

	_, err = run(e, "backup", "restore", info.FilePath, "--actor", itoa(owner), "--yes")
	require.NoError(t, err)
	copies, _ := pgtest.Holding(t, db, holding.ID)
	assert.Equal(t, 1, copies, "リストアでバックアップ時点の部数に戻る")

	out, err = run(e, "backup", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "[]", "リストアしたバックアップには自身の履歴が含まれない")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
