package borrowing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/hashicorp/go-multierror"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/utils"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/audit"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/event"
	"go.uber.org/zap"
)

// Inventory は貸出の状態遷移と同じトランザクションで在庫を予約・返却するものです
type Inventory interface {
	ReserveTx(ctx context.Context, q repository.Querier, holdingID int64) error
	ReleaseTx(ctx context.Context, q repository.Querier, holdingID int64) error
}

// Service は貸出リクエストの状態遷移を担当します
//
//	requested -> confirmed -> returned
//	requested -> declined
//
// 在庫はリクエスト作成時に1部押さえ、declined または returned になった時点で戻します
type Service struct {
	db        repository.Database
	loans     repository.LoanRepository
	inventory Inventory
	audit     audit.Sink
	events    event.Publisher
	clock     func() time.Time
}

// Option は Service の設定です
type Option func(*Service)

// WithClock は「今日」の判定に使う時計を差し替えます
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService は新しいServiceを作成します
func NewService(
	db repository.Database,
	loans repository.LoanRepository,
	inventory Inventory,
	sink audit.Sink,
	events event.Publisher,
	opts ...Option,
) *Service {
	s := &Service{
		db:        db,
		loans:     loans,
		inventory: inventory,
		audit:     sink,
		events:    events,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request は貸出リクエストを作成し、在庫を1部押さえます
// 在庫の予約とリクエストの登録は同じトランザクションで行うため、片方だけが残ることはありません
func (s *Service) Request(ctx context.Context, holdingID, borrowerID int64, start, end time.Time) (*model.Loan, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BorrowingService.Request")
	defer seg.Close(nil)

	startDate, endDate := utils.DateOf(start), utils.DateOf(end)
	if startDate.After(endDate) {
		return nil, model.ErrInvalidDateRange
	}
	if utils.IsBeforeDate(startDate, s.clock()) {
		return nil, model.ErrDateInPast
	}

	loan := &model.Loan{
		HoldingID:  holdingID,
		BorrowerID: borrowerID,
		StartDate:  startDate,
		EndDate:    endDate,
		Status:     model.LoanStatusRequested,
	}

	err := repository.InTx(ctx, s.db, nil, func(tx repository.Tx) error {
		if err := s.inventory.ReserveTx(ctx, tx, holdingID); err != nil {
			return err
		}
		return s.loans.Create(ctx, tx, loan)
	})
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(borrowerID),
		Action:  model.AuditBorrowingRequest,
		Details: fmt.Sprintf("User %d requested holding %d from %s to %s (loan %d)",
			borrowerID, holdingID, startDate.Format(time.DateOnly), endDate.Format(time.DateOnly), loan.ID),
	})
	s.publish(ctx, model.EventLoanRequested, borrowerID, loan)

	return loan, nil
}

// Confirm はオーナーが貸出リクエストを承認します
// 在庫はリクエスト時に押さえているため変更しません
func (s *Service) Confirm(ctx context.Context, loanID int64) (*model.Loan, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BorrowingService.Confirm")
	defer seg.Close(nil)

	loan, err := s.transition(ctx, loanID, model.LoanStatusConfirmed, nil)
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(loan.OwnerID),
		Action:  model.AuditBorrowingConfirm,
		Details: fmt.Sprintf("User %d confirmed loan %d for user %d", loan.OwnerID, loan.ID, loan.BorrowerID),
	})
	s.publish(ctx, model.EventLoanConfirmed, loan.OwnerID, loan)

	return loan, nil
}

// Decline はオーナーが貸出リクエストを却下し、押さえていた在庫を戻します
func (s *Service) Decline(ctx context.Context, loanID int64) (*model.Loan, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BorrowingService.Decline")
	defer seg.Close(nil)

	loan, err := s.transition(ctx, loanID, model.LoanStatusDeclined, nil)
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(loan.OwnerID),
		Action:  model.AuditBorrowingDeclined,
		Details: fmt.Sprintf("User %d declined loan %d for user %d", loan.OwnerID, loan.ID, loan.BorrowerID),
	})
	s.publish(ctx, model.EventLoanDeclined, loan.OwnerID, loan)

	return loan, nil
}

// Return は借り手またはオーナーが返却を記録し、在庫を戻します
func (s *Service) Return(ctx context.Context, loanID, actorID int64) (*model.Loan, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BorrowingService.Return")
	defer seg.Close(nil)

	loan, err := s.transition(ctx, loanID, model.LoanStatusReturned, func(loan *model.Loan) error {
		if !loan.IsParty(actorID) {
			return model.ErrNotLoanParty
		}
		return nil
	})
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(actorID),
		Action:  model.AuditBorrowingReturned,
		Details: fmt.Sprintf("User %d recorded return of loan %d (holding %d)", actorID, loan.ID, loan.HoldingID),
	})
	s.publish(ctx, model.EventLoanReturned, actorID, loan)

	return loan, nil
}

// transition は貸出リクエストを行ロックして状態を to に更新します
// to が終端状態の場合は在庫の返却も同じトランザクションで行い、どちらかが失敗すれば両方ロールバックします
func (s *Service) transition(ctx context.Context, loanID int64, to model.LoanStatus, authorize func(*model.Loan) error) (*model.Loan, error) {
	var updated *model.Loan
	err := repository.InTx(ctx, s.db, nil, func(tx repository.Tx) error {
		loan, err := s.loans.GetForUpdate(ctx, tx, loanID)
		if err != nil {
			return err
		}

		if !loan.Status.CanTransitionTo(to) {
			return wrongStateError(to)
		}
		if authorize != nil {
			if err := authorize(loan); err != nil {
				return err
			}
		}

		if err := s.loans.UpdateStatus(ctx, tx, loanID, loan.Status, to); err != nil {
			return err
		}
		if to.IsTerminal() {
			if err := s.inventory.ReleaseTx(ctx, tx, loan.HoldingID); err != nil {
				return fmt.Errorf("failed to release holding %d: %w", loan.HoldingID, err)
			}
		}

		loan.Status = to
		updated = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func wrongStateError(to model.LoanStatus) error {
	if to == model.LoanStatusReturned {
		return model.ErrNotConfirmed
	}
	return model.ErrNotInRequestedState
}

// Get は貸出リクエストを取得します
func (s *Service) Get(ctx context.Context, loanID int64) (*model.Loan, error) {
	return s.loans.Get(ctx, s.db, loanID)
}

// ListByBorrower は借り手の貸出リクエストを返します
func (s *Service) ListByBorrower(ctx context.Context, borrowerID int64) ([]model.Loan, error) {
	return s.loans.ListByBorrower(ctx, s.db, borrowerID)
}

// ListByHolding は在庫に対する貸出リクエストを返します
func (s *Service) ListByHolding(ctx context.Context, holdingID int64) ([]model.Loan, error) {
	return s.loans.ListByHolding(ctx, s.db, holdingID)
}

// ListStale は開始日を graceDays 日過ぎても requested のままのリクエストを返します
func (s *Service) ListStale(ctx context.Context, asOf time.Time, graceDays int) ([]model.Loan, error) {
	if graceDays < 0 {
		graceDays = 0
	}
	return s.loans.ListRequestedBefore(ctx, s.db, utils.DaysBefore(asOf, graceDays))
}

// AutoDecline はシステムとして貸出リクエストを却下し、在庫を戻します
func (s *Service) AutoDecline(ctx context.Context, loanID int64) (*model.Loan, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BorrowingService.AutoDecline")
	defer seg.Close(nil)

	loan, err := s.transition(ctx, loanID, model.LoanStatusDeclined, nil)
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		Action: model.AuditBorrowingAutoDeclined,
		Details: fmt.Sprintf("Loan %d for user %d auto-declined: no response by start date %s",
			loan.ID, loan.BorrowerID, loan.StartDate.Format(time.DateOnly)),
	})
	s.publish(ctx, model.EventLoanDeclined, 0, loan)

	return loan, nil
}

// SweepStale は放置されたリクエストを1件ずつ別トランザクションで自動却下し、却下したリクエストを返します
// 途中で状態が変わったリクエストは読み飛ばし、それ以外の失敗はまとめて返します
func (s *Service) SweepStale(ctx context.Context, asOf time.Time, graceDays int) ([]model.Loan, error) {
	stale, err := s.ListStale(ctx, asOf, graceDays)
	if err != nil {
		return nil, err
	}

	declined := []model.Loan{}
	var result *multierror.Error
	for _, candidate := range stale {
		loan, err := s.AutoDecline(ctx, candidate.ID)
		if err != nil {
			if IsSkippable(err) {
				logger.InfoCtx(ctx, "Skipped loan that changed state during sweep", zap.Int64("loan_id", candidate.ID), zap.Error(err))
				continue
			}
			result = multierror.Append(result, fmt.Errorf("loan %d: %w", candidate.ID, err))
			continue
		}
		declined = append(declined, *loan)
	}

	return declined, result.ErrorOrNil()
}

// IsSkippable は自動却下で読み飛ばしてよいエラー (業務ルールによる拒否) かを返します
func IsSkippable(err error) bool {
	if errors.Is(err, model.ErrAlreadyAtCapacity) {
		return false
	}
	return model.KindOf(err) == model.KindConflict
}

func (s *Service) publish(ctx context.Context, eventType model.EventType, actorID int64, loan *model.Loan) {
	if s.events == nil {
		return
	}
	snapshot := *loan
	s.events.Publish(ctx, model.DomainEvent{
		Type:       eventType,
		ActorID:    actorID,
		OccurredAt: s.clock(),
		Loan:       &snapshot,
	})
}
