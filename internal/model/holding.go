package model

// Holding はオーナーが所有するゲームの在庫 (usergames テーブル) です
type Holding struct {
	ID              int64 `db:"user_game_id" json:"holding_id"`
	OwnerID         int64 `db:"user_id" json:"owner_id"`
	GameID          int64 `db:"game_id" json:"game_id"`
	TotalCopies     int   `db:"copies" json:"total_copies"`
	AvailableCopies int   `db:"available_copies" json:"available_copies"`
}

// LentOut は貸出中 (予約済みを含む) の部数を返します
func (h Holding) LentOut() int {
	return h.TotalCopies - h.AvailableCopies
}

// Valid は 0 <= available <= total を満たすかを返します
func (h Holding) Valid() bool {
	return h.AvailableCopies >= 0 && h.AvailableCopies <= h.TotalCopies
}
