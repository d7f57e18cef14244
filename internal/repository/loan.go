package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
)

// LoanRepository は貸出リクエスト (borrowings) の永続化を担当するインターフェースです
type LoanRepository interface {
	Create(ctx context.Context, q Querier, loan *model.Loan) error
	Get(ctx context.Context, q Querier, loanID int64) (*model.Loan, error)
	GetForUpdate(ctx context.Context, q Querier, loanID int64) (*model.Loan, error)
	UpdateStatus(ctx context.Context, q Querier, loanID int64, from, to model.LoanStatus) error
	CountActiveByHolding(ctx context.Context, q Querier, holdingID int64) (int, error)
	ListByBorrower(ctx context.Context, q Querier, borrowerID int64) ([]model.Loan, error)
	ListByHolding(ctx context.Context, q Querier, holdingID int64) ([]model.Loan, error)
	ListRequestedBefore(ctx context.Context, q Querier, before time.Time) ([]model.Loan, error)
}

// LoanRepositoryImpl は貸出リクエストの永続化を担当します
type LoanRepositoryImpl struct{}

// NewLoanRepository は新しいLoanRepositoryを作成します
func NewLoanRepository() *LoanRepositoryImpl {
	return &LoanRepositoryImpl{}
}

// オーナーとゲームは usergames から結合します
const loanSelect = `
		SELECT
			b.borrowing_id,
			b.lender_user_game_id,
			b.borrower_id,
			ug.user_id AS owner_id,
			ug.game_id,
			b.start_date,
			b.end_date,
			b.status
		FROM borrowings b
		JOIN usergames ug ON ug.user_game_id = b.lender_user_game_id`

// Create は貸出リクエストを登録し、採番されたIDとオーナー・ゲームを loan に設定します
func (r *LoanRepositoryImpl) Create(ctx context.Context, q Querier, loan *model.Loan) error {
	ctx, seg := xray.BeginSubsegment(ctx, "LoanRepository.Create")
	defer seg.Close(nil)

	query := `
		INSERT INTO borrowings (
			lender_user_game_id, borrower_id, start_date, end_date, status
		) VALUES (
			$1, $2, $3, $4, $5
		)
		RETURNING
			borrowing_id,
			(SELECT user_id FROM usergames WHERE user_game_id = $1),
			(SELECT game_id FROM usergames WHERE user_game_id = $1)`

	err := q.QueryRowxContext(ctx,
		query,
		loan.HoldingID,
		loan.BorrowerID,
		loan.StartDate.Format(time.DateOnly),
		loan.EndDate.Format(time.DateOnly),
		loan.Status,
	).Scan(&loan.ID, &loan.OwnerID, &loan.GameID)
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to create loan: %w", err)
	}

	return nil
}

// Get は貸出リクエストを取得します
func (r *LoanRepositoryImpl) Get(ctx context.Context, q Querier, loanID int64) (*model.Loan, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "LoanRepository.Get")
	defer seg.Close(nil)

	return r.get(ctx, q, loanSelect+` WHERE b.borrowing_id = $1`, loanID)
}

// GetForUpdate は貸出リクエストを行ロック付きで取得します
// 同じリクエストに対する状態遷移はこのロックで直列化されます
func (r *LoanRepositoryImpl) GetForUpdate(ctx context.Context, q Querier, loanID int64) (*model.Loan, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "LoanRepository.GetForUpdate")
	defer seg.Close(nil)

	return r.get(ctx, q, loanSelect+` WHERE b.borrowing_id = $1 FOR UPDATE OF b`, loanID)
}

func (r *LoanRepositoryImpl) get(ctx context.Context, q Querier, query string, loanID int64) (*model.Loan, error) {
	var loan model.Loan
	if err := q.GetContext(ctx, &loan, query, loanID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan %d: %w", loanID, err)
	}
	return &loan, nil
}

// UpdateStatus は貸出リクエストの状態を from から to に更新します
func (r *LoanRepositoryImpl) UpdateStatus(ctx context.Context, q Querier, loanID int64, from, to model.LoanStatus) error {
	ctx, seg := xray.BeginSubsegment(ctx, "LoanRepository.UpdateStatus")
	defer seg.Close(nil)

	query := `
		UPDATE borrowings
		SET status = $3
		WHERE borrowing_id = $1 AND status = $2`

	result, err := q.ExecContext(ctx, query, loanID, from, to)
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to update loan status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err := fmt.Errorf("no loan %d found with status %s", loanID, from)
		seg.Close(err)
		return err
	}

	return nil
}

// CountActiveByHolding は在庫に対する requested / confirmed の件数を返します
func (r *LoanRepositoryImpl) CountActiveByHolding(ctx context.Context, q Querier, holdingID int64) (int, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "LoanRepository.CountActiveByHolding")
	defer seg.Close(nil)

	query := `
		SELECT COUNT(*)
		FROM borrowings
		WHERE lender_user_game_id = $1
		AND status IN ('requested', 'confirmed')`

	var count int
	if err := q.GetContext(ctx, &count, query, holdingID); err != nil {
		seg.Close(err)
		return 0, fmt.Errorf("failed to count active loans: %w", err)
	}

	return count, nil
}

// ListByBorrower は借り手の貸出リクエストを新しい順に返します
func (r *LoanRepositoryImpl) ListByBorrower(ctx context.Context, q Querier, borrowerID int64) ([]model.Loan, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "LoanRepository.ListByBorrower")
	defer seg.Close(nil)

	return r.list(ctx, q, loanSelect+` WHERE b.borrower_id = $1 ORDER BY b.start_date DESC, b.borrowing_id DESC`, borrowerID)
}

// ListByHolding は在庫に対する貸出リクエストを新しい順に返します
func (r *LoanRepositoryImpl) ListByHolding(ctx context.Context, q Querier, holdingID int64) ([]model.Loan, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "LoanRepository.ListByHolding")
	defer seg.Close(nil)

	return r.list(ctx, q, loanSelect+` WHERE b.lender_user_game_id = $1 ORDER BY b.start_date DESC, b.borrowing_id DESC`, holdingID)
}

// ListRequestedBefore は開始日が before より前のまま requested になっているリクエストを返します
func (r *LoanRepositoryImpl) ListRequestedBefore(ctx context.Context, q Querier, before time.Time) ([]model.Loan, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "LoanRepository.ListRequestedBefore")
	defer seg.Close(nil)

	return r.list(ctx, q, loanSelect+`
		WHERE b.status = 'requested' AND b.start_date < $1
		ORDER BY b.start_date ASC, b.borrowing_id ASC`, before.Format(time.DateOnly))
}

func (r *LoanRepositoryImpl) list(ctx context.Context, q Querier, query string, args ...interface{}) ([]model.Loan, error) {
	loans := []model.Loan{}
	if err := q.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	return loans, nil
}
