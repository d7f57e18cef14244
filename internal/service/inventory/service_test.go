package inventory

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/audit"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/event"
	"github.com/uma-arai/sbcntr-ludoteca/internal/testutil/fakedb"
	"github.com/uma-arai/sbcntr-ludoteca/internal/testutil/memrepo"
)

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
	f.service = NewService(f.db, f.store.Holdings(), f.store.Loans(), f.audit, bus)
	return f
}

func TestService_Add(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	holding, err := f.service.Add(ctx, 1, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, holding.TotalCopies)
	assert.Equal(t, 3, holding.AvailableCopies)

	require.Len(t, f.audit.Entries(), 1)
	assert.Equal(t, model.AuditAddUserGame, f.audit.Entries()[0].Action)
	require.Len(t, f.events.Events(), 1)
	assert.Equal(t, model.EventHoldingAdded, f.events.Events()[0].Type)

	_, err = f.service.Add(ctx, 1, 10, 0)
	assert.ErrorIs(t, err, model.ErrInvalidCopies)
}

func TestService_ReserveRelease(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	id := f.store.PutHolding(model.Holding{OwnerID: 1, GameID: 10, TotalCopies: 1, AvailableCopies: 1})

	require.NoError(t, f.service.Reserve(ctx, id))
	assert.ErrorIs(t, f.service.Reserve(ctx, id), model.ErrNoCopiesAvailable)

	h, _ := f.store.Holding(id)
	assert.Equal(t, 0, h.AvailableCopies)

	require.NoError(t, f.service.Release(ctx, id))
	assert.ErrorIs(t, f.service.Release(ctx, id), model.ErrAlreadyAtCapacity)

	h, _ = f.store.Holding(id)
	assert.Equal(t, 1, h.AvailableCopies)

	assert.ErrorIs(t, f.service.Reserve(ctx, 999), model.ErrHoldingNotFound)
}

// 予約と返却をランダムに繰り返しても 0 <= available <= total が保たれること
func TestService_RandomReserveReleaseKeepsInvariant(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	id := f.store.PutHolding(model.Holding{OwnerID: 1, GameID: 10, TotalCopies: 3, AvailableCopies: 3})

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		before, _ := f.store.Holding(id)

		var err error
		if rng.Intn(2) == 0 {
			err = f.service.Reserve(ctx, id)
			if before.AvailableCopies == 0 {
				assert.ErrorIs(t, err, model.ErrNoCopiesAvailable)
			}
		} else {
			err = f.service.Release(ctx, id)
			if before.AvailableCopies == before.TotalCopies {
				assert.ErrorIs(t, err, model.ErrAlreadyAtCapacity)
			}
		}

		after, _ := f.store.Holding(id)
		require.True(t, after.Valid(), "invariant broken at step %d: %+v", i, after)
		if err != nil {
			assert.Equal(t, before, after, "failed operation must not mutate")
		}
	}
}

func TestService_Resize(t *testing.T) {
	tests := []struct {
		name          string
		total         int
		available     int
		newTotal      int
		wantErr       error
		wantAvailable int
	}{
		{"増やす", 2, 1, 4, nil, 3},
		{"貸出中の部数ちょうど", 2, 1, 1, nil, 0},
		{"貸出中の部数を下回る", 1, 0, 0, model.ErrBelowOutstandingLoans, 0},
		{"負の値", 2, 2, -1, model.ErrInvalidCopies, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestService(t)
			id := f.store.PutHolding(model.Holding{OwnerID: 1, GameID: 10, TotalCopies: tt.total, AvailableCopies: tt.available})

			holding, err := f.service.Resize(context.Background(), id, tt.newTotal)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, f.audit.Entries())
				after, _ := f.store.Holding(id)
				assert.Equal(t, tt.total, after.TotalCopies)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.newTotal, holding.TotalCopies)
			assert.Equal(t, tt.wantAvailable, holding.AvailableCopies)
			assert.Equal(t, model.AuditUpdateUserGame, f.audit.Entries()[0].Action)
		})
	}
}

func TestService_Remove(t *testing.T) {
	t.Run("アクティブな貸出がある場合は削除できない", func(t *testing.T) {
		f := newTestService(t)
		id := f.store.PutHolding(model.Holding{OwnerID: 1, GameID: 10, TotalCopies: 1, AvailableCopies: 0})
		f.store.PutLoan(model.Loan{HoldingID: id, BorrowerID: 2, Status: model.LoanStatusConfirmed})

		err := f.service.Remove(context.Background(), id)
		assert.ErrorIs(t, err, model.ErrHasActiveLoans)

		_, ok := f.store.Holding(id)
		assert.True(t, ok)
		commits, rollbacks := f.db.Counts()
		assert.Equal(t, 0, commits)
		assert.Equal(t, 1, rollbacks)
	})

	t.Run("終了した貸出のみなら削除できる", func(t *testing.T) {
		f := newTestService(t)
		id := f.store.PutHolding(model.Holding{OwnerID: 1, GameID: 10, TotalCopies: 1, AvailableCopies: 1})
		f.store.PutLoan(model.Loan{HoldingID: id, BorrowerID: 2, Status: model.LoanStatusReturned})

		require.NoError(t, f.service.Remove(context.Background(), id))

		_, ok := f.store.Holding(id)
		assert.False(t, ok)
		assert.Equal(t, model.AuditDeleteUserGame, f.audit.Entries()[0].Action)
		assert.Equal(t, model.EventHoldingRemoved, f.events.Events()[0].Type)
	})

	t.Run("存在しない在庫", func(t *testing.T) {
		f := newTestService(t)
		err := f.service.Remove(context.Background(), 404)
		assert.True(t, errors.Is(err, model.ErrHoldingNotFound))
	})
}
