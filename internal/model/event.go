package model

import "time"

// EventType はドメインイベントの種類です
type EventType string

const (
	EventLoanRequested  EventType = "LoanRequested"
	EventLoanConfirmed  EventType = "LoanConfirmed"
	EventLoanDeclined   EventType = "LoanDeclined"
	EventLoanReturned   EventType = "LoanReturned"
	EventHoldingAdded   EventType = "HoldingAdded"
	EventHoldingResized EventType = "HoldingResized"
	EventHoldingRemoved EventType = "HoldingRemoved"
)

// DomainEvent はコミット済みの状態変化を購読者に伝えるイベントです
// Loan と Holding は種類に応じてどちらか一方が設定されます
type DomainEvent struct {
	Type       EventType
	ActorID    int64
	OccurredAt time.Time
	Loan       *Loan
	Holding    *Holding
}

// IsLoanEvent は貸出に関するイベントかを返します
func (e DomainEvent) IsLoanEvent() bool {
	return e.Loan != nil
}
