package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/audit"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/event"
	"go.uber.org/zap"
)

// Service は在庫の部数管理を担当します
// 予約と返却は条件付きUPDATEの1文で行うため、プロセス内のロックは持ちません
type Service struct {
	db       repository.Database
	holdings repository.HoldingRepository
	loans    repository.LoanRepository
	audit    audit.Sink
	events   event.Publisher
	clock    func() time.Time
}

// NewService は新しいServiceを作成します
func NewService(
	db repository.Database,
	holdings repository.HoldingRepository,
	loans repository.LoanRepository,
	sink audit.Sink,
	events event.Publisher,
) *Service {
	return &Service{
		db:       db,
		holdings: holdings,
		loans:    loans,
		audit:    sink,
		events:   events,
		clock:    time.Now,
	}
}

// Add はオーナーのゲームを copies 部で登録します
func (s *Service) Add(ctx context.Context, ownerID, gameID int64, copies int) (*model.Holding, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "InventoryService.Add")
	defer seg.Close(nil)

	if copies <= 0 {
		return nil, model.ErrInvalidCopies
	}

	holding := &model.Holding{
		OwnerID:         ownerID,
		GameID:          gameID,
		TotalCopies:     copies,
		AvailableCopies: copies,
	}
	if err := s.holdings.Create(ctx, s.db, holding); err != nil {
		seg.Close(err)
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(ownerID),
		Action:  model.AuditAddUserGame,
		Details: fmt.Sprintf("User %d added %d copies of game %d (holding %d)", ownerID, copies, gameID, holding.ID),
	})
	s.publish(ctx, model.EventHoldingAdded, ownerID, holding)

	return holding, nil
}

// Get は在庫を取得します
func (s *Service) Get(ctx context.Context, holdingID int64) (*model.Holding, error) {
	return s.holdings.Get(ctx, s.db, holdingID)
}

// Reserve は貸出可能数を1減らします
// 在庫がない場合は ErrNoCopiesAvailable を返し、何も変更しません
func (s *Service) Reserve(ctx context.Context, holdingID int64) error {
	return s.ReserveTx(ctx, s.db, holdingID)
}

// ReserveTx は呼び出し側のトランザクション内で Reserve を行います
func (s *Service) ReserveTx(ctx context.Context, q repository.Querier, holdingID int64) error {
	return s.holdings.DecrementAvailable(ctx, q, holdingID)
}

// Release は貸出可能数を1増やします
func (s *Service) Release(ctx context.Context, holdingID int64) error {
	return s.ReleaseTx(ctx, s.db, holdingID)
}

// ReleaseTx は呼び出し側のトランザクション内で Release を行います
// 所有部数を超える場合は上限に丸めず ErrAlreadyAtCapacity を返します
func (s *Service) ReleaseTx(ctx context.Context, q repository.Querier, holdingID int64) error {
	err := s.holdings.IncrementAvailable(ctx, q, holdingID)
	if errors.Is(err, model.ErrAlreadyAtCapacity) {
		// 正しく運用されていれば発生しないため、帳簿の不整合として記録する
		logger.ErrorCtx(ctx, fmt.Errorf("release on holding at capacity: %w", err), zap.Int64("holding_id", holdingID))
	}
	return err
}

// Resize は所有部数を変更します
// 貸出中の部数を下回る場合は ErrBelowOutstandingLoans を返します
func (s *Service) Resize(ctx context.Context, holdingID int64, newTotal int) (*model.Holding, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "InventoryService.Resize")
	defer seg.Close(nil)

	if newTotal < 0 {
		return nil, model.ErrInvalidCopies
	}

	holding, err := s.holdings.Resize(ctx, s.db, holdingID, newTotal)
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(holding.OwnerID),
		Action:  model.AuditUpdateUserGame,
		Details: fmt.Sprintf("User %d changed holding %d to %d copies", holding.OwnerID, holdingID, newTotal),
	})
	s.publish(ctx, model.EventHoldingResized, holding.OwnerID, holding)

	return holding, nil
}

// Remove は在庫を削除します
// requested または confirmed の貸出リクエストがある場合は ErrHasActiveLoans を返します
func (s *Service) Remove(ctx context.Context, holdingID int64) error {
	ctx, seg := xray.BeginSubsegment(ctx, "InventoryService.Remove")
	defer seg.Close(nil)

	var removed *model.Holding
	err := repository.InTx(ctx, s.db, nil, func(tx repository.Tx) error {
		// 行ロックで新しい貸出リクエストの作成と競合しないようにする
		holding, err := s.holdings.GetForUpdate(ctx, tx, holdingID)
		if err != nil {
			return err
		}

		active, err := s.loans.CountActiveByHolding(ctx, tx, holdingID)
		if err != nil {
			return err
		}
		if active > 0 {
			return model.ErrHasActiveLoans
		}

		if err := s.holdings.Delete(ctx, tx, holdingID); err != nil {
			return err
		}
		removed = holding
		return nil
	})
	if err != nil {
		seg.Close(err)
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(removed.OwnerID),
		Action:  model.AuditDeleteUserGame,
		Details: fmt.Sprintf("User %d removed holding %d (game %d)", removed.OwnerID, holdingID, removed.GameID),
	})
	s.publish(ctx, model.EventHoldingRemoved, removed.OwnerID, removed)

	return nil
}

func (s *Service) publish(ctx context.Context, eventType model.EventType, actorID int64, holding *model.Holding) {
	if s.events == nil {
		return
	}
	snapshot := *holding
	s.events.Publish(ctx, model.DomainEvent{
		Type:       eventType,
		ActorID:    actorID,
		OccurredAt: s.clock(),
		Holding:    &snapshot,
	})
}
