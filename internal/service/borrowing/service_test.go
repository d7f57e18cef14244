package borrowing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/audit"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/event"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/inventory"
	"github.com/uma-arai/sbcntr-ludoteca/internal/testutil/fakedb"
	"github.com/uma-arai/sbcntr-ludoteca/internal/testutil/memrepo"
)

var today = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memrepo.Store
	db      *fakedb.DB
	audit   *audit.Recorder
	events  *event.Recorder
	service *Service
}

// newTestService はテスト用のServiceを作成します
func newTestService(t *testing.T) *fixture {
	t.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")

	f := &fixture{
		store:  memrepo.New(),
		db:     fakedb.New(),
		audit:  &audit.Recorder{},
		events: &event.Recorder{},
	}
	bus := event.NewBus()
	bus.Subscribe(f.events.Listen)
	inv := inventory.NewService(f.db, f.store.Holdings(), f.store.Loans(), f.audit, nil)
	f.service = NewService(f.db, f.store.Loans(), inv, f.audit, bus, WithClock(func() time.Time { return today }))
	return f
}

func (f *fixture) holding(total, available int) int64 {
	return f.store.PutHolding(model.Holding{OwnerID: 1, GameID: 10, TotalCopies: total, AvailableCopies: available})
}

func (f *fixture) available(t *testing.T, id int64) int {
	h, ok := f.store.Holding(id)
	require.True(t, ok)
	return h.AvailableCopies
}

func TestService_RequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		start   time.Time
		end     time.Time
		wantErr error
	}{
		{"開始日が終了日より後", today.AddDate(0, 0, 3), today.AddDate(0, 0, 1), model.ErrInvalidDateRange},
		{"開始日が過去", today.AddDate(0, 0, -1), today.AddDate(0, 0, 1), model.ErrDateInPast},
		{"開始日が今日 (時刻は過去)", time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), today, nil},
		{"開始日と終了日が同じ", today.AddDate(0, 0, 2), today.AddDate(0, 0, 2), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestService(t)
			id := f.holding(1, 1)

			loan, err := f.service.Request(context.Background(), id, 2, tt.start, tt.end)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, model.KindValidation, model.KindOf(err))
				assert.Equal(t, 1, f.available(t, id))
				assert.Empty(t, f.audit.Entries())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.LoanStatusRequested, loan.Status)
			assert.Equal(t, int64(1), loan.OwnerID)
			assert.Equal(t, 0, f.available(t, id))
		})
	}
}

// シナリオA: 2部の在庫に2件のリクエストは成功し、3件目は在庫切れ、1件目の却下で1部戻ること
func TestService_ScenarioA(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	id := f.holding(2, 2)
	start, end := today.AddDate(0, 0, 1), today.AddDate(0, 0, 5)

	first, err := f.service.Request(ctx, id, 2, start, end)
	require.NoError(t, err)
	_, err = f.service.Request(ctx, id, 3, start, end)
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, id))

	_, err = f.service.Request(ctx, id, 4, start, end)
	assert.ErrorIs(t, err, model.ErrNoCopiesAvailable)
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	declined, err := f.service.Decline(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusDeclined, declined.Status)
	assert.Equal(t, 1, f.available(t, id))
}

func TestService_Lifecycle(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	id := f.holding(1, 1)

	loan, err := f.service.Request(ctx, id, 2, today, today.AddDate(0, 0, 3))
	require.NoError(t, err)

	_, err = f.service.Return(ctx, loan.ID, 2)
	assert.ErrorIs(t, err, model.ErrNotConfirmed)

	confirmed, err := f.service.Confirm(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusConfirmed, confirmed.Status)
	assert.Equal(t, 0, f.available(t, id))

	_, err = f.service.Decline(ctx, loan.ID)
	assert.ErrorIs(t, err, model.ErrNotInRequestedState)

	_, err = f.service.Return(ctx, loan.ID, 99)
	assert.ErrorIs(t, err, model.ErrNotLoanParty)
	assert.Equal(t, 0, f.available(t, id))

	returned, err := f.service.Return(ctx, loan.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusReturned, returned.Status)
	assert.Equal(t, 1, f.available(t, id))

	_, err = f.service.Confirm(ctx, loan.ID)
	assert.ErrorIs(t, err, model.ErrNotInRequestedState)

	actions := []model.AuditAction{}
	for _, e := range f.audit.Entries() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []model.AuditAction{
		model.AuditBorrowingRequest,
		model.AuditBorrowingConfirm,
		model.AuditBorrowingReturned,
	}, actions)

	// 承認はオーナーの操作として記録される
	assert.Equal(t, int64(1), *f.audit.Entries()[1].ActorID)

	types := []model.EventType{}
	for _, e := range f.events.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []model.EventType{
		model.EventLoanRequested,
		model.EventLoanConfirmed,
		model.EventLoanReturned,
	}, types)
}

// 却下されたリクエストは承認できず、リクエストも在庫も変化しないこと
func TestService_ConfirmDeclinedLoan(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	id := f.holding(2, 2)

	loan, err := f.service.Request(ctx, id, 2, today, today)
	require.NoError(t, err)
	_, err = f.service.Decline(ctx, loan.ID)
	require.NoError(t, err)

	_, err = f.service.Confirm(ctx, loan.ID)
	assert.ErrorIs(t, err, model.ErrNotInRequestedState)

	stored, _ := f.store.Loan(loan.ID)
	assert.Equal(t, model.LoanStatusDeclined, stored.Status)
	assert.Equal(t, 2, f.available(t, id))
}

func TestService_RequestRollsBackOnLoanFailure(t *testing.T) {
	f := newTestService(t)
	id := f.holding(1, 1)
	f.store.Fail["Loans.Create"] = memrepo.ErrInjected

	_, err := f.service.Request(context.Background(), id, 2, today, today)
	assert.ErrorIs(t, err, memrepo.ErrInjected)
	assert.Equal(t, model.KindCollaborator, model.KindOf(err))

	commits, rollbacks := f.db.Counts()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks)
	assert.Empty(t, f.events.Events())
}

func TestService_DeclineRollsBackOnReleaseFailure(t *testing.T) {
	f := newTestService(t)
	id := f.holding(1, 1)
	// 在庫が満杯のまま requested が残っている不整合な状態
	loanID := f.store.PutLoan(model.Loan{HoldingID: id, BorrowerID: 2, StartDate: today, EndDate: today, Status: model.LoanStatusRequested})

	_, err := f.service.Decline(context.Background(), loanID)
	assert.ErrorIs(t, err, model.ErrAlreadyAtCapacity)

	_, rollbacks := f.db.Counts()
	assert.Equal(t, 1, rollbacks)
	assert.Empty(t, f.audit.Entries())
}

func TestService_SweepStale(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	id := f.holding(3, 0)

	stale := f.store.PutLoan(model.Loan{HoldingID: id, BorrowerID: 2, StartDate: today.AddDate(0, 0, -3), EndDate: today, Status: model.LoanStatusRequested})
	recent := f.store.PutLoan(model.Loan{HoldingID: id, BorrowerID: 3, StartDate: today.AddDate(0, 0, -1), EndDate: today, Status: model.LoanStatusRequested})
	f.store.PutLoan(model.Loan{HoldingID: id, BorrowerID: 4, StartDate: today.AddDate(0, 0, -5), EndDate: today, Status: model.LoanStatusConfirmed})

	declined, err := f.service.SweepStale(ctx, today, 2)
	require.NoError(t, err)
	require.Len(t, declined, 1)
	assert.Equal(t, stale, declined[0].ID)

	got, _ := f.store.Loan(recent)
	assert.Equal(t, model.LoanStatusRequested, got.Status)
	assert.Equal(t, 1, f.available(t, id))

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditBorrowingAutoDeclined, entries[0].Action)
	assert.Nil(t, entries[0].ActorID)

	declined, err = f.service.SweepStale(ctx, today, 0)
	require.NoError(t, err)
	require.Len(t, declined, 1)
	assert.Equal(t, recent, declined[0].ID)
}

func TestService_SweepStaleAggregatesErrors(t *testing.T) {
	f := newTestService(t)
	id := f.holding(2, 2)
	f.store.PutLoan(model.Loan{HoldingID: id, BorrowerID: 2, StartDate: today.AddDate(0, 0, -3), EndDate: today, Status: model.LoanStatusRequested})
	f.store.PutLoan(model.Loan{HoldingID: id, BorrowerID: 3, StartDate: today.AddDate(0, 0, -3), EndDate: today, Status: model.LoanStatusRequested})

	declined, err := f.service.SweepStale(context.Background(), today, 0)
	assert.Empty(t, declined)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAlreadyAtCapacity)
	assert.Contains(t, err.Error(), "2 errors occurred")
}

func TestIsSkippable(t *testing.T) {
	assert.True(t, IsSkippable(model.ErrNotInRequestedState))
	assert.True(t, IsSkippable(model.ErrLoanNotFound))
	assert.False(t, IsSkippable(model.ErrAlreadyAtCapacity))
	assert.False(t, IsSkippable(memrepo.ErrInjected))
}
