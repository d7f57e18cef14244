package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
)

// AuditRepository は操作ログ (logs) の永続化を担当するインターフェースです
type AuditRepository interface {
	Insert(ctx context.Context, q Querier, entry *model.AuditEntry) error
	InsertBatch(ctx context.Context, db TxBeginner, entries []model.AuditEntry) error
	ListByDateRange(ctx context.Context, q Querier, from, to time.Time) ([]model.AuditEntry, error)
	DeleteByDateRange(ctx context.Context, q Querier, from, to time.Time) (int64, error)
}

// AuditRepositoryImpl は操作ログの永続化を担当します
type AuditRepositoryImpl struct{}

// NewAuditRepository は新しいAuditRepositoryを作成します
func NewAuditRepository() *AuditRepositoryImpl {
	return &AuditRepositoryImpl{}
}

// Insert は操作ログを1件追加します
func (r *AuditRepositoryImpl) Insert(ctx context.Context, q Querier, entry *model.AuditEntry) error {
	ctx, seg := xray.BeginSubsegment(ctx, "AuditRepository.Insert")
	defer seg.Close(nil)

	query := `
		INSERT INTO logs (
			user_id, action, timestamp, details, ip_address, device_info
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		RETURNING log_id`

	err := q.QueryRowxContext(ctx,
		query,
		entry.ActorID,
		entry.Action,
		entry.Timestamp,
		entry.Details,
		entry.IPAddress,
		entry.DeviceInfo,
	).Scan(&entry.ID)
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to insert log: %w", err)
	}

	return nil
}

// InsertBatch は複数の操作ログを1つのトランザクションで追加します
// 1件でも失敗した場合は何も追加されません
func (r *AuditRepositoryImpl) InsertBatch(ctx context.Context, db TxBeginner, entries []model.AuditEntry) error {
	ctx, seg := xray.BeginSubsegment(ctx, "AuditRepository.InsertBatch")
	defer seg.Close(nil)

	err := InTx(ctx, db, nil, func(tx Tx) error {
		// PERF: bulk insertにしたほうがパフォーマンス上は望ましい
		for i := range entries {
			if err := r.Insert(ctx, tx, &entries[i]); err != nil {
				return fmt.Errorf("failed to insert log %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		seg.Close(err)
		return err
	}

	return nil
}

// ListByDateRange は日付が from から to (両端を含む) の操作ログを古い順に返します
func (r *AuditRepositoryImpl) ListByDateRange(ctx context.Context, q Querier, from, to time.Time) ([]model.AuditEntry, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "AuditRepository.ListByDateRange")
	defer seg.Close(nil)

	query := `
		SELECT
			log_id,
			user_id,
			action,
			timestamp,
			details,
			ip_address,
			device_info
		FROM logs
		WHERE DATE(timestamp) BETWEEN $1 AND $2
		ORDER BY timestamp ASC, log_id ASC`

	entries := []model.AuditEntry{}
	if err := q.SelectContext(ctx, &entries, query, from.Format(time.DateOnly), to.Format(time.DateOnly)); err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}

	return entries, nil
}

// DeleteByDateRange は日付が from から to (両端を含む) の操作ログを削除し、削除件数を返します
func (r *AuditRepositoryImpl) DeleteByDateRange(ctx context.Context, q Querier, from, to time.Time) (int64, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "AuditRepository.DeleteByDateRange")
	defer seg.Close(nil)

	result, err := q.ExecContext(ctx,
		`DELETE FROM logs WHERE DATE(timestamp) BETWEEN $1 AND $2`,
		from.Format(time.DateOnly),
		to.Format(time.DateOnly),
	)
	if err != nil {
		seg.Close(err)
		return 0, fmt.Errorf("failed to delete logs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		seg.Close(err)
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
