package model

import "time"

// AuditAction は操作ログの種別タグです
type AuditAction string

const (
	AuditBorrowingRequest      AuditAction = "BorrowingRequest"
	AuditBorrowingConfirm      AuditAction = "BorrowingConfirm"
	AuditBorrowingDeclined     AuditAction = "BorrowingDeclined"
	AuditBorrowingReturned     AuditAction = "BorrowingReturned"
	AuditBorrowingAutoDeclined AuditAction = "BorrowingAutoDeclined"
	AuditAddUserGame           AuditAction = "AddUserGame"
	AuditUpdateUserGame        AuditAction = "UpdateUserGame"
	AuditDeleteUserGame        AuditAction = "DeleteUserGame"
	AuditDatabaseBackup        AuditAction = "DatabaseBackup"
	AuditDatabaseRestore       AuditAction = "DatabaseRestore"
	AuditLogsArchived          AuditAction = "LogsArchived"
	AuditLogsImported          AuditAction = "LogsImported"
)

// AuditEntry は logs テーブルの1行です
// ActorID が nil の場合はシステムによる操作です
// Details, IPAddress, DeviceInfo はNULLを nil で表します
type AuditEntry struct {
	ID         int64       `db:"log_id" json:"log_id"`
	ActorID    *int64      `db:"user_id" json:"user_id"`
	Action     AuditAction `db:"action" json:"action"`
	Timestamp  time.Time   `db:"timestamp" json:"timestamp"`
	Details    *string     `db:"details" json:"details"`
	IPAddress  *string     `db:"ip_address" json:"ip_address"`
	DeviceInfo *string     `db:"device_info" json:"device_info"`
}

// Actor は ActorID 用のポインタを返します
func Actor(id int64) *int64 {
	return &id
}
