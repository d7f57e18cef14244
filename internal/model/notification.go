package model

import (
	"fmt"
	"time"
)

// NotificationType は通知の種類を表します
type NotificationType string

const (
	// NotificationTypeLoan は貸出関連の通知を表します
	NotificationTypeLoan NotificationType = "loan"
	// NotificationTypeCommon は共通の通知を表します
	NotificationTypeCommon NotificationType = "common"
)

// Notification はバッチの出力としてStep Functionsに渡す通知です
type Notification struct {
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Data      map[string]any   `json:"data"`
}

// NotificationMessage は利用者に届けるメッセージです
type NotificationMessage struct {
	UserID  int64  `json:"user_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

var loanNotificationTitles = map[LoanStatus]string{
	LoanStatusRequested: "貸出リクエストが届きました",
	LoanStatusConfirmed: "貸出リクエストが承認されました",
	LoanStatusDeclined:  "貸出リクエストが却下されました",
	LoanStatusReturned:  "返却が完了しました",
}

// ToMessage は通知をメッセージに変換します
// gameTitles はゲームIDからタイトルへの対応です
func (n Notification) ToMessage(gameTitles map[int64]string) (*NotificationMessage, error) {
	userID, ok := n.Data["user_id"].(int64)
	if !ok {
		return nil, fmt.Errorf("invalid notification data format")
	}

	if n.Type != NotificationTypeLoan {
		return &NotificationMessage{
			UserID:  userID,
			Title:   "新しい通知が届きました。",
			Message: "新しい通知です。",
		}, nil
	}

	gameID, _ := n.Data["game_id"].(int64)
	title, ok := gameTitles[gameID]
	if !ok {
		return nil, fmt.Errorf("game_id %d not found in gameTitles", gameID)
	}

	status, _ := n.Data["status"].(LoanStatus)
	heading, ok := loanNotificationTitles[status]
	if !ok {
		return nil, fmt.Errorf("unexpected loan status: %q", status)
	}

	var startDate string
	switch v := n.Data["start_date"].(type) {
	case time.Time:
		startDate = v.Format(time.DateOnly)
	case string:
		startDate = v
	default:
		return nil, fmt.Errorf("unexpected type for start_date: %T", v)
	}

	return &NotificationMessage{
		UserID: userID,
		Title:  heading,
		Message: fmt.Sprintf(`%s
ゲーム: %s
貸出開始日: %s`, heading, title, startDate),
	}, nil
}

// NewLoanNotification は貸出イベントから借り手向けの通知を作成します
func NewLoanNotification(event DomainEvent) (Notification, error) {
	if event.Loan == nil {
		return Notification{}, fmt.Errorf("event %s has no loan", event.Type)
	}

	return Notification{
		Type:      NotificationTypeLoan,
		CreatedAt: event.OccurredAt,
		Data: map[string]any{
			"user_id":    event.Loan.BorrowerID,
			"loan_id":    event.Loan.ID,
			"game_id":    event.Loan.GameID,
			"status":     event.Loan.Status,
			"start_date": event.Loan.StartDate,
		},
	}, nil
}
