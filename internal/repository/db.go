package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"go.uber.org/zap"
)

// Querier はDBとトランザクションの両方で実行できる操作です
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Tx はトランザクションです
type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// TxBeginner はトランザクションを開始できるものです
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
}

// Database はリポジトリとサービスが依存する接続です
type Database interface {
	Querier
	TxBeginner
}

// DB は *sqlx.DB を包んだ接続プールです
// プロセス全体で共有せず、生成した側が各コンポーネントに渡します
type DB struct {
	*sqlx.DB
}

// NewDB は接続済みの *sqlx.DB から DB を作成します
func NewDB(db *sqlx.DB) *DB {
	return &DB{DB: db}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "DB.BeginTx")
	defer seg.Close(nil)

	tx, err := db.DB.BeginTxx(ctx, opts)
	if err != nil {
		seg.Close(err)
		return nil, err
	}
	return tx, nil
}

// InTx は fn をトランザクション内で実行します
// fn がエラーを返した場合はロールバックし、成功した場合はコミットします
// ロールバックの失敗はログに出力し、元のエラーを返します
func InTx(ctx context.Context, db TxBeginner, opts *sql.TxOptions, fn func(tx Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// コミットを試みた後はロールバックしない (失敗したコミットはドライバが終了させる)
	committing := false
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil && !committing {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.ErrorCtx(ctx, fmt.Errorf("failed to rollback transaction: %w", rbErr),
					zap.NamedError("cause", err),
				)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	committing = true
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
