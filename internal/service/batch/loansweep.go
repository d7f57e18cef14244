package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/utils"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/borrowing"
	"go.uber.org/zap"
)

// Sweeper は放置された貸出リクエストの検索と自動却下です
type Sweeper interface {
	ListStale(ctx context.Context, asOf time.Time, graceDays int) ([]model.Loan, error)
	AutoDecline(ctx context.Context, loanID int64) (*model.Loan, error)
}

// LoanSweepResult はStep Functionsに渡す貸出スイープバッチの出力です
type LoanSweepResult struct {
	RunID         string                      `json:"run_id"`
	Declined      int                         `json:"declined"`
	Skipped       int                         `json:"skipped"`
	Notifications []model.NotificationMessage `json:"notifications"`
}

// LoanSweepBatchService は開始日を過ぎても承認されない貸出リクエストを却下するバッチです
type LoanSweepBatchService struct {
	db        repository.Querier
	sweeper   Sweeper
	games     repository.GameRepository
	reporter  *TaskReporter
	graceDays int
	poolSize  int
	clock     func() time.Time
}

// NewLoanSweepBatchService は新しいLoanSweepBatchServiceを作成します
func NewLoanSweepBatchService(
	db repository.Querier,
	sweeper Sweeper,
	games repository.GameRepository,
	reporter *TaskReporter,
	graceDays int,
	poolSize int,
) *LoanSweepBatchService {
	return &LoanSweepBatchService{
		db:        db,
		sweeper:   sweeper,
		games:     games,
		reporter:  reporter,
		graceDays: graceDays,
		poolSize:  max(poolSize, 1),
		clock:     time.Now,
	}
}

// Run は貸出スイープバッチを実行します
func (s *LoanSweepBatchService) Run(ctx context.Context) error {
	ctx, seg := xray.BeginSubsegment(ctx, "LoanSweepBatchService.Run")
	defer seg.Close(nil)

	startTime := s.clock()
	runID := uuid.Must(uuid.NewV7()).String()
	if err := seg.AddMetadata("run_id", runID); err != nil {
		logger.WarnCtx(ctx, "Failed to add run_id metadata", zap.Error(err))
	}

	result, err := s.sweep(ctx, runID, startTime)
	if err != nil {
		seg.Close(err)
		return utils.GetStackWithError(fmt.Errorf("failed to sweep stale loans: %w", err))
	}

	if err := s.reporter.Success(ctx, result); err != nil {
		seg.Close(err)
		return utils.GetStackWithError(fmt.Errorf("failed to send task success: %w", err))
	}

	duration := s.clock().Sub(startTime)
	if err := seg.AddMetadata("duration", duration.String()); err != nil {
		logger.WarnCtx(ctx, "Failed to add duration metadata", zap.Error(err))
	}

	logger.InfoCtx(ctx, "Loan sweep batch process completed successfully",
		zap.String("run_id", runID),
		zap.Int("declined", result.Declined),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", duration),
	)
	return nil
}

func (s *LoanSweepBatchService) sweep(ctx context.Context, runID string, asOf time.Time) (*LoanSweepResult, error) {
	stale, err := s.sweeper.ListStale(ctx, asOf, s.graceDays)
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Found stale loan requests",
		zap.String("run_id", runID),
		zap.Int("count", len(stale)),
		zap.Int("grace_days", s.graceDays),
	)

	var (
		mu       sync.Mutex
		declined []model.Loan
		skipped  int
		errs     *multierror.Error
	)

	pool := pond.NewPool(
		s.poolSize,
		pond.WithQueueSize(len(stale)+1),
		pond.WithContext(ctx),
	)
	for _, candidate := range stale {
		pool.Submit(func() {
			loan, err := s.sweeper.AutoDecline(ctx, candidate.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				declined = append(declined, *loan)
			case borrowing.IsSkippable(err):
				// 一覧取得後に承認・却下された貸出は対象外
				skipped++
				logger.InfoCtx(ctx, "Skipped loan that changed state during sweep",
					zap.String("run_id", runID),
					zap.Int64("loan_id", candidate.ID),
					zap.Error(err),
				)
			default:
				errs = multierror.Append(errs, fmt.Errorf("loan %d: %w", candidate.ID, err))
			}
		})
	}
	pool.StopAndWait()

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	messages, err := s.notifications(ctx, declined, asOf)
	if err != nil {
		return nil, err
	}

	return &LoanSweepResult{
		RunID:         runID,
		Declined:      len(declined),
		Skipped:       skipped,
		Notifications: messages,
	}, nil
}

// notifications は却下した貸出の借り手への通知を作成します
// ゲームのタイトルはN+1とならないようにまとめて取得します
func (s *LoanSweepBatchService) notifications(ctx context.Context, loans []model.Loan, at time.Time) ([]model.NotificationMessage, error) {
	messages := []model.NotificationMessage{}
	if len(loans) == 0 {
		return messages, nil
	}

	gameIDs := lo.Uniq(lo.Map(loans, func(l model.Loan, _ int) int64 { return l.GameID }))
	titles, err := s.games.GetTitlesByIDs(ctx, s.db, gameIDs)
	if err != nil {
		return nil, err
	}

	for i := range loans {
		notification, err := model.NewLoanNotification(model.DomainEvent{
			Type:       model.EventLoanDeclined,
			OccurredAt: at,
			Loan:       &loans[i],
		})
		if err != nil {
			return nil, err
		}
		message, err := notification.ToMessage(titles)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}
	return messages, nil
}
