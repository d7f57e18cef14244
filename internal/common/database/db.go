package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"go.uber.org/zap"
)

type DB struct {
	*sqlx.DB
}

type Config struct {
	Host     string
	Port     int
	UserName string
	Password string
	DBName   string
	// SSLMode が空の場合はホストに応じて決定します
	SSLMode string
	// ConnectTimeout は起動時の疎通確認を再試行する上限時間です
	ConnectTimeout time.Duration
	// EnableTracing が true の場合はX-Ray対応のドライバで接続します
	EnableTracing bool
}

// DSN は接続文字列を返します
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		// localhostのDBの場合はSSLを無効化
		if c.Host == "localhost" || os.Getenv("DB_HOST") == "localhost" {
			sslMode = "disable"
		} else {
			sslMode = "require" // 本番環境ではSSLを有効にする
		}
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.UserName,
		c.Password,
		c.DBName,
		sslMode,
	)
}

// NewDB はデータベースに接続します
// 起動直後はDBの準備ができていないことがあるため、疎通確認は ConnectTimeout まで指数バックオフで再試行します
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	if cfg.EnableTracing {
		// X-Ray対応のSQLコンテキストを作成
		db, err = xray.SQLContext("postgres", cfg.DSN())
	} else {
		db, err = sql.Open("postgres", cfg.DSN())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// コネクションプールの設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.ConnectTimeout
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 30 * time.Second
	}

	ping := func() error {
		return db.PingContext(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnCtx(ctx, "Database is not ready, retrying", zap.Error(err), zap.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.InfoCtx(ctx, "DB connected successfully", zap.String("host", cfg.Host), zap.String("dbname", cfg.DBName))

	return &DB{sqlx.NewDb(db, "postgres")}, nil
}
