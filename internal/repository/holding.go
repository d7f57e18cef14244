package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
)

// HoldingRepository は在庫 (usergames) の永続化を担当するインターフェースです
// q を受け取るメソッドは呼び出し側のトランザクション内で実行できます
type HoldingRepository interface {
	Create(ctx context.Context, q Querier, holding *model.Holding) error
	Get(ctx context.Context, q Querier, holdingID int64) (*model.Holding, error)
	GetForUpdate(ctx context.Context, q Querier, holdingID int64) (*model.Holding, error)
	DecrementAvailable(ctx context.Context, q Querier, holdingID int64) error
	IncrementAvailable(ctx context.Context, q Querier, holdingID int64) error
	Resize(ctx context.Context, q Querier, holdingID int64, newTotal int) (*model.Holding, error)
	Delete(ctx context.Context, q Querier, holdingID int64) error
}

// HoldingRepositoryImpl は在庫の永続化を担当します
type HoldingRepositoryImpl struct{}

// NewHoldingRepository は新しいHoldingRepositoryを作成します
func NewHoldingRepository() *HoldingRepositoryImpl {
	return &HoldingRepositoryImpl{}
}

const holdingColumns = `user_game_id, user_id, game_id, copies, available_copies`

// Create は在庫を登録し、採番されたIDを holding に設定します
func (r *HoldingRepositoryImpl) Create(ctx context.Context, q Querier, holding *model.Holding) error {
	ctx, seg := xray.BeginSubsegment(ctx, "HoldingRepository.Create")
	defer seg.Close(nil)

	query := `
		INSERT INTO usergames (user_id, game_id, copies, available_copies)
		VALUES ($1, $2, $3, $4)
		RETURNING user_game_id`

	err := q.QueryRowxContext(ctx, query,
		holding.OwnerID,
		holding.GameID,
		holding.TotalCopies,
		holding.AvailableCopies,
	).Scan(&holding.ID)
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to create holding: %w", err)
	}

	return nil
}

// Get は在庫を取得します
func (r *HoldingRepositoryImpl) Get(ctx context.Context, q Querier, holdingID int64) (*model.Holding, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "HoldingRepository.Get")
	defer seg.Close(nil)

	return r.get(ctx, q, `SELECT `+holdingColumns+` FROM usergames WHERE user_game_id = $1`, holdingID)
}

// GetForUpdate は在庫を行ロック付きで取得します
func (r *HoldingRepositoryImpl) GetForUpdate(ctx context.Context, q Querier, holdingID int64) (*model.Holding, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "HoldingRepository.GetForUpdate")
	defer seg.Close(nil)

	return r.get(ctx, q, `SELECT `+holdingColumns+` FROM usergames WHERE user_game_id = $1 FOR UPDATE`, holdingID)
}

func (r *HoldingRepositoryImpl) get(ctx context.Context, q Querier, query string, holdingID int64) (*model.Holding, error) {
	var holding model.Holding
	if err := q.GetContext(ctx, &holding, query, holdingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrHoldingNotFound
		}
		return nil, fmt.Errorf("failed to get holding %d: %w", holdingID, err)
	}
	return &holding, nil
}

// DecrementAvailable は貸出可能数を1減らします
// 条件付きUPDATEの1文で判定と更新を行うため、同時に呼ばれても0を下回りません
func (r *HoldingRepositoryImpl) DecrementAvailable(ctx context.Context, q Querier, holdingID int64) error {
	ctx, seg := xray.BeginSubsegment(ctx, "HoldingRepository.DecrementAvailable")
	defer seg.Close(nil)

	query := `
		UPDATE usergames
		SET available_copies = available_copies - 1
		WHERE user_game_id = $1 AND available_copies > 0`

	if err := r.execConditional(ctx, q, query, holdingID, model.ErrNoCopiesAvailable); err != nil {
		seg.Close(err)
		return err
	}
	return nil
}

// IncrementAvailable は貸出可能数を1増やします
func (r *HoldingRepositoryImpl) IncrementAvailable(ctx context.Context, q Querier, holdingID int64) error {
	ctx, seg := xray.BeginSubsegment(ctx, "HoldingRepository.IncrementAvailable")
	defer seg.Close(nil)

	query := `
		UPDATE usergames
		SET available_copies = available_copies + 1
		WHERE user_game_id = $1 AND available_copies < copies`

	if err := r.execConditional(ctx, q, query, holdingID, model.ErrAlreadyAtCapacity); err != nil {
		seg.Close(err)
		return err
	}
	return nil
}

// execConditional は条件付きUPDATEを実行します
// 更新行が0件の場合、在庫が存在すれば onMiss を、存在しなければ ErrHoldingNotFound を返します
func (r *HoldingRepositoryImpl) execConditional(ctx context.Context, q Querier, query string, holdingID int64, onMiss error) error {
	result, err := q.ExecContext(ctx, query, holdingID)
	if err != nil {
		return fmt.Errorf("failed to update holding %d: %w", holdingID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	exists, err := r.exists(ctx, q, holdingID)
	if err != nil {
		return err
	}
	if !exists {
		return model.ErrHoldingNotFound
	}
	return onMiss
}

func (r *HoldingRepositoryImpl) exists(ctx context.Context, q Querier, holdingID int64) (bool, error) {
	var exists bool
	err := q.QueryRowxContext(ctx, `SELECT EXISTS (SELECT 1 FROM usergames WHERE user_game_id = $1)`, holdingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check holding %d: %w", holdingID, err)
	}
	return exists, nil
}

// Resize は所有部数を newTotal に変更し、貸出可能数も同じ差分だけ動かします
// 貸出中の部数を下回る場合は ErrBelowOutstandingLoans を返します
func (r *HoldingRepositoryImpl) Resize(ctx context.Context, q Querier, holdingID int64, newTotal int) (*model.Holding, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "HoldingRepository.Resize")
	defer seg.Close(nil)

	query := `
		UPDATE usergames
		SET available_copies = available_copies + ($2 - copies),
			copies = $2
		WHERE user_game_id = $1 AND $2 >= copies - available_copies
		RETURNING ` + holdingColumns

	var holding model.Holding
	err := q.GetContext(ctx, &holding, query, holdingID, newTotal)
	if err == nil {
		return &holding, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		seg.Close(err)
		return nil, fmt.Errorf("failed to resize holding %d: %w", holdingID, err)
	}

	exists, err := r.exists(ctx, q, holdingID)
	if err != nil {
		seg.Close(err)
		return nil, err
	}
	if !exists {
		return nil, model.ErrHoldingNotFound
	}
	return nil, model.ErrBelowOutstandingLoans
}

// Delete は在庫を削除します
func (r *HoldingRepositoryImpl) Delete(ctx context.Context, q Querier, holdingID int64) error {
	ctx, seg := xray.BeginSubsegment(ctx, "HoldingRepository.Delete")
	defer seg.Close(nil)

	result, err := q.ExecContext(ctx, `DELETE FROM usergames WHERE user_game_id = $1`, holdingID)
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to delete holding %d: %w", holdingID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrHoldingNotFound
	}

	return nil
}
