package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/utils"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"go.uber.org/zap"
)

// BackupCreator はバックアップファイルの作成です
type BackupCreator interface {
	CreateBackup(ctx context.Context, path string, createdBy int64) (*model.BackupInfo, error)
}

// BackupResult はStep Functionsに渡すバックアップバッチの出力です
type BackupResult struct {
	RunID    string `json:"run_id"`
	BackupID int64  `json:"backup_id"`
	FilePath string `json:"file_path"`
}

// BackupBatchService は定期バックアップのバッチです
type BackupBatchService struct {
	creator  BackupCreator
	reporter *TaskReporter
	dir      string
	actorID  int64
	clock    func() time.Time
}

// NewBackupBatchService は新しいBackupBatchServiceを作成します
func NewBackupBatchService(creator BackupCreator, reporter *TaskReporter, dir string, actorID int64) *BackupBatchService {
	return &BackupBatchService{
		creator:  creator,
		reporter: reporter,
		dir:      dir,
		actorID:  actorID,
		clock:    time.Now,
	}
}

// BackupFileName はバックアップファイルの名前です
func BackupFileName(at time.Time) string {
	return fmt.Sprintf("backup_%s.bin", at.UTC().Format("20060102_150405"))
}

// Run はバックアップバッチを実行します
func (s *BackupBatchService) Run(ctx context.Context) error {
	ctx, seg := xray.BeginSubsegment(ctx, "BackupBatchService.Run")
	defer seg.Close(nil)

	startTime := s.clock()
	runID := uuid.Must(uuid.NewV7()).String()
	if err := seg.AddMetadata("run_id", runID); err != nil {
		logger.WarnCtx(ctx, "Failed to add run_id metadata", zap.Error(err))
	}

	path := filepath.Join(s.dir, BackupFileName(startTime))
	info, err := s.creator.CreateBackup(ctx, path, s.actorID)
	if err != nil {
		seg.Close(err)
		return utils.GetStackWithError(fmt.Errorf("failed to create backup: %w", err))
	}

	result := &BackupResult{RunID: runID, BackupID: info.ID, FilePath: info.FilePath}
	if err := s.reporter.Success(ctx, result); err != nil {
		seg.Close(err)
		return utils.GetStackWithError(fmt.Errorf("failed to send task success: %w", err))
	}

	logger.InfoCtx(ctx, "Backup batch process completed successfully",
		zap.String("run_id", runID),
		zap.String("path", info.FilePath),
		zap.Duration("duration", s.clock().Sub(startTime)),
	)
	return nil
}
