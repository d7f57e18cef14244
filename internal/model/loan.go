package model

import "time"

// LoanStatus は貸出リクエストの状態です
type LoanStatus string

const (
	LoanStatusRequested LoanStatus = "requested"
	LoanStatusConfirmed LoanStatus = "confirmed"
	LoanStatusDeclined  LoanStatus = "declined"
	LoanStatusReturned  LoanStatus = "returned"
)

var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanStatusRequested: {LoanStatusConfirmed, LoanStatusDeclined},
	LoanStatusConfirmed: {LoanStatusReturned},
}

// CanTransitionTo は next への遷移が許可されているかを返します
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	for _, allowed := range loanTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal は終端状態 (declined, returned) かを返します
func (s LoanStatus) IsTerminal() bool {
	return s == LoanStatusDeclined || s == LoanStatusReturned
}

// IsActive は在庫を1部押さえている状態かを返します
func (s LoanStatus) IsActive() bool {
	return s == LoanStatusRequested || s == LoanStatusConfirmed
}

// Loan は貸出リクエスト (borrowings テーブル) です
// OwnerID と GameID は usergames との結合で得られる読み取り専用の値です
type Loan struct {
	ID         int64      `db:"borrowing_id" json:"loan_id"`
	HoldingID  int64      `db:"lender_user_game_id" json:"holding_id"`
	BorrowerID int64      `db:"borrower_id" json:"borrower_id"`
	OwnerID    int64      `db:"owner_id" json:"owner_id"`
	GameID     int64      `db:"game_id" json:"game_id"`
	StartDate  time.Time  `db:"start_date" json:"start_date"`
	EndDate    time.Time  `db:"end_date" json:"end_date"`
	Status     LoanStatus `db:"status" json:"status"`
}

// IsParty は userID が借り手またはオーナーであるかを返します
func (l Loan) IsParty(userID int64) bool {
	return userID == l.BorrowerID || userID == l.OwnerID
}
