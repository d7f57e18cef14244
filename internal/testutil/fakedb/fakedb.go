// Package fakedb はリポジトリをモックしたテストで使うDBとトランザクションの代替です
// SQLは実行できないため、クエリを発行するメソッドを呼ぶとpanicします
package fakedb

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
)

var errNoSQL = errors.New("fakedb does not execute SQL")

// DB はトランザクションの開始・コミット・ロールバックを数えます
type DB struct {
	sqlx.ExtContext

	BeginErr    error
	CommitErr   error
	RollbackErr error

	mu        sync.Mutex
	Options   []*sql.TxOptions
	Commits   int
	Rollbacks int
}

// New は新しいDBを作成します
func New() *DB {
	return &DB{}
}

func (db *DB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errNoSQL
}

func (db *DB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errNoSQL
}

// BeginTx はトランザクションの代替を返します
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (repository.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.BeginErr != nil {
		return nil, db.BeginErr
	}
	db.Options = append(db.Options, opts)
	return &Tx{db: db}, nil
}

// Counts はコミット数とロールバック数を返します
func (db *DB) Counts() (commits, rollbacks int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.Commits, db.Rollbacks
}

// Tx は DB が返すトランザクションです
type Tx struct {
	sqlx.ExtContext
	db   *DB
	done bool
}

func (tx *Tx) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errNoSQL
}

func (tx *Tx) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errNoSQL
}

func (tx *Tx) Commit() error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	if tx.db.CommitErr != nil {
		return tx.db.CommitErr
	}
	tx.db.Commits++
	return nil
}

func (tx *Tx) Rollback() error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	if tx.db.RollbackErr != nil {
		return tx.db.RollbackErr
	}
	tx.db.Rollbacks++
	return nil
}
