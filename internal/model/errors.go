package model

import (
	"errors"
	"fmt"
)

// Kind はエラーの分類を表します
// 呼び出し側は Kind を見て「業務ルールによる拒否」と「インフラ障害」を区別します
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindIntegrity    Kind = "integrity"
	KindCollaborator Kind = "collaborator"
)

// Error はドメイン層で定義されるエラーです
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// 入力値の検証エラー
var (
	ErrInvalidDateRange = newError(KindValidation, "InvalidDateRange", "start date must not be after end date")
	ErrDateInPast       = newError(KindValidation, "DateInPast", "start date must not be in the past")
	ErrInvalidCopies    = newError(KindValidation, "InvalidCopies", "invalid number of copies")
	ErrNotLoanParty     = newError(KindValidation, "NotLoanParty", "actor is neither the borrower nor the owner")
)

// 業務ルール違反
var (
	ErrNoCopiesAvailable     = newError(KindConflict, "NoCopiesAvailable", "no copies available")
	ErrAlreadyAtCapacity     = newError(KindConflict, "AlreadyAtCapacity", "available copies already at capacity")
	ErrBelowOutstandingLoans = newError(KindConflict, "BelowOutstandingLoans", "total copies cannot be lower than copies lent out")
	ErrHasActiveLoans        = newError(KindConflict, "HasActiveLoans", "holding has active loans")
	ErrNotInRequestedState   = newError(KindConflict, "NotInRequestedState", "loan is not in requested state")
	ErrNotConfirmed          = newError(KindConflict, "NotConfirmed", "loan is not confirmed")
	ErrNoLogsInRange         = newError(KindConflict, "NoLogsInRange", "no logs in the given period")
	ErrHoldingNotFound       = newError(KindConflict, "HoldingNotFound", "holding not found")
	ErrLoanNotFound          = newError(KindConflict, "LoanNotFound", "loan not found")
)

// バックアップファイル・スナップショットの整合性エラー
var (
	ErrEmptyKey          = newError(KindIntegrity, "EmptyKey", "encryption key must not be empty")
	ErrTruncated         = newError(KindIntegrity, "Truncated", "encrypted data is truncated")
	ErrInvalidIVLength   = newError(KindIntegrity, "InvalidIvLength", "invalid IV length")
	ErrMalformedPayload  = newError(KindIntegrity, "MalformedPayload", "decrypted payload is malformed")
	ErrUnsupportedFormat = newError(KindIntegrity, "UnsupportedFormat", "unsupported snapshot format")
	ErrUnknownTable      = newError(KindIntegrity, "UnknownTable", "unknown table in snapshot")
	ErrUnknownColumn     = newError(KindIntegrity, "UnknownColumn", "unknown column in snapshot")
	ErrTableReadFailed   = newError(KindCollaborator, "TableReadFailed", "failed to read table")
	ErrTableInsertFailed = newError(KindIntegrity, "TableInsertFailed", "failed to insert row")
)

// TableOp はテーブル単位の操作種別です
type TableOp string

const (
	TableOpRead   TableOp = "read"
	TableOpInsert TableOp = "insert"
)

// TableError はバックアップ・リストア中に特定のテーブルで発生したエラーです
// Row は挿入に失敗した行の位置 (0始まり) で、読み込みエラーと
// コミット前の制約検査で見つかった違反 (行を特定できない) の場合は -1 です
type TableError struct {
	Op    TableOp
	Table string
	Row   int
	Err   error
}

func (e *TableError) Error() string {
	if e.Op == TableOpInsert {
		if e.Row < 0 {
			return fmt.Sprintf("failed to insert into %s: %v", e.Table, e.Err)
		}
		return fmt.Sprintf("failed to insert row %d into %s: %v", e.Row, e.Table, e.Err)
	}
	return fmt.Sprintf("failed to read table %s: %v", e.Table, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

// Is は Op に応じて ErrTableReadFailed / ErrTableInsertFailed と一致させます
func (e *TableError) Is(target error) bool {
	switch target {
	case ErrTableReadFailed:
		return e.Op == TableOpRead
	case ErrTableInsertFailed:
		return e.Op == TableOpInsert
	}
	return false
}

// KindOf はエラーの分類を返します
// ドメインエラーを含まないエラーはすべて KindCollaborator (ストレージやファイルの障害) として扱います
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var tableErr *TableError
	if errors.As(err, &tableErr) {
		if tableErr.Op == TableOpInsert {
			return KindIntegrity
		}
		return KindCollaborator
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}

	return KindCollaborator
}
