package borrowing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/audit"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/borrowing"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/event"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/inventory"
	"github.com/uma-arai/sbcntr-ludoteca/internal/testutil/pgtest"
)

func TestMain(m *testing.M) {
	pgtest.Main(m)
}

func newService(db *repository.DB) *borrowing.Service {
	loans := repository.NewLoanRepository()
	sink := audit.NewRepositorySink(db, repository.NewAuditRepository(), audit.Origin{IPAddress: "127.0.0.1", DeviceInfo: "test"})
	bus := event.NewBus()
	inv := inventory.NewService(db, repository.NewHoldingRepository(), loans, sink, bus)
	return borrowing.NewService(db, loans, inv, sink, bus)
}

func TestService_ScenarioA_Postgres(t *testing.T) {
	db := pgtest.DB(t)
	ctx := context.Background()

	owner := pgtest.SeedUser(t, db, "owner")
	b1 := pgtest.SeedUser(t, db, "b1")
	b2 := pgtest.SeedUser(t, db, "b2")
	b3 := pgtest.SeedUser(t, db, "b3")
	game := pgtest.SeedGame(t, db, "Catan")
	holdingID := pgtest.SeedHolding(t, db, owner, game, 2, 2)
	service := newService(db)

	start, end := time.Now(), time.Now().AddDate(0, 0, 7)

	first, err := service.Request(ctx, holdingID, b1, start, end)
	require.NoError(t, err)
	assert.Equal(t, owner, first.OwnerID)
	assert.Equal(t, game, first.GameID)

	_, err = service.Request(ctx, holdingID, b2, start, end)
	require.NoError(t, err)

	_, available := pgtest.Holding(t, db, holdingID)
	assert.Equal(t, 0, available)

	_, err = service.Request(ctx, holdingID, b3, start, end)
	assert.ErrorIs(t, err, model.ErrNoCopiesAvailable)

	_, err = service.Decline(ctx, first.ID)
	require.NoError(t, err)

	_, available = pgtest.Holding(t, db, holdingID)
	assert.Equal(t, 1, available)

	loan, err := service.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusDeclined, loan.Status)

	loans, err := service.ListByHolding(ctx, holdingID)
	require.NoError(t, err)
	assert.Len(t, loans, 2)

	mine, err := service.ListByBorrower(ctx, b3)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

// 貸出リクエストの登録に失敗した場合、予約した在庫も戻っていること
func TestService_RequestLeavesNoOrphanReservation(t *testing.T) {
	db := pgtest.DB(t)
	ctx := context.Background()

	owner := pgtest.SeedUser(t, db, "owner")
	game := pgtest.SeedGame(t, db, "Azul")
	holdingID := pgtest.SeedHolding(t, db, owner, game, 1, 1)
	service := newService(db)

	// 存在しない借り手は外部キー違反になる
	_, err := service.Request(ctx, holdingID, 424242, time.Now(), time.Now())
	require.Error(t, err)
	assert.Equal(t, model.KindCollaborator, model.KindOf(err))

	_, available := pgtest.Holding(t, db, holdingID)
	assert.Equal(t, 1, available)

	var count int
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM borrowings`))
	assert.Equal(t, 0, count)
}

// 在庫の返却に失敗した場合、状態の更新もロールバックされること
func TestService_DeclineRollsBackStatus(t *testing.T) {
	db := pgtest.DB(t)
	ctx := context.Background()

	owner := pgtest.SeedUser(t, db, "owner")
	borrower := pgtest.SeedUser(t, db, "borrower")
	game := pgtest.SeedGame(t, db, "Azul")
	holdingID := pgtest.SeedHolding(t, db, owner, game, 1, 1)
	loanID := pgtest.SeedLoan(t, db, holdingID, borrower, time.Now(), time.Now(), "requested")
	service := newService(db)

	_, err := service.Decline(ctx, loanID)
	assert.ErrorIs(t, err, model.ErrAlreadyAtCapacity)

	loan, err := service.Get(ctx, loanID)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusRequested, loan.Status)
}

func TestService_ReturnAndSweep_Postgres(t *testing.T) {
	db := pgtest.DB(t)
	ctx := context.Background()

	owner := pgtest.SeedUser(t, db, "owner")
	borrower := pgtest.SeedUser(t, db, "borrower")
	game := pgtest.SeedGame(t, db, "Dominion")
	holdingID := pgtest.SeedHolding(t, db, owner, game, 2, 0)
	now := time.Now()
	confirmed := pgtest.SeedLoan(t, db, holdingID, borrower, now.AddDate(0, 0, -10), now.AddDate(0, 0, -3), "confirmed")
	stale := pgtest.SeedLoan(t, db, holdingID, borrower, now.AddDate(0, 0, -4), now, "requested")
	service := newService(db)

	_, err := service.Return(ctx, confirmed, borrower)
	require.NoError(t, err)

	declined, err := service.SweepStale(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, declined, 1)
	assert.Equal(t, stale, declined[0].ID)

	_, available := pgtest.Holding(t, db, holdingID)
	assert.Equal(t, 2, available)

	var actions []string
	require.NoError(t, db.SelectContext(ctx, &actions, `SELECT action FROM logs ORDER BY log_id`))
	assert.Equal(t, []string{"BorrowingReturned", "BorrowingAutoDeclined"}, actions)
}
