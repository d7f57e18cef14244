package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
)

// BackupRepository はバックアップ履歴 (databasebackups) の永続化を担当するインターフェースです
type BackupRepository interface {
	Insert(ctx context.Context, q Querier, info *model.BackupInfo) error
	List(ctx context.Context, q Querier) ([]model.BackupInfo, error)
}

// BackupRepositoryImpl はバックアップ履歴の永続化を担当します
type BackupRepositoryImpl struct{}

// NewBackupRepository は新しいBackupRepositoryを作成します
func NewBackupRepository() *BackupRepositoryImpl {
	return &BackupRepositoryImpl{}
}

// Insert はバックアップ履歴を追加します
func (r *BackupRepositoryImpl) Insert(ctx context.Context, q Querier, info *model.BackupInfo) error {
	ctx, seg := xray.BeginSubsegment(ctx, "BackupRepository.Insert")
	defer seg.Close(nil)

	query := `
		INSERT INTO databasebackups (backup_date, backup_file_path, created_by)
		VALUES ($1, $2, $3)
		RETURNING backup_id`

	if err := q.QueryRowxContext(ctx, query, info.CreatedAt, info.FilePath, info.CreatedBy).Scan(&info.ID); err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to insert backup record: %w", err)
	}

	return nil
}

// List はバックアップ履歴を作成者名と合わせて新しい順に返します
func (r *BackupRepositoryImpl) List(ctx context.Context, q Querier) ([]model.BackupInfo, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "BackupRepository.List")
	defer seg.Close(nil)

	query := `
		SELECT
			b.backup_id,
			b.backup_date,
			b.backup_file_path,
			COALESCE(b.created_by, 0) AS created_by,
			COALESCE(u.username, '') AS username
		FROM databasebackups b
		LEFT JOIN users u ON u.user_id = b.created_by
		ORDER BY b.backup_date DESC, b.backup_id DESC`

	backups := []model.BackupInfo{}
	if err := q.SelectContext(ctx, &backups, query); err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}

	return backups, nil
}
