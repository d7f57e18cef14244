package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/database"
)

const (
	// DefaultBackupPassphrase はバックアップファイルの鍵の元になる文字列です
	DefaultBackupPassphrase = "DatabaseBackupKey"
	// DefaultLogArchivePassphrase はログアーカイブの鍵の元になる文字列です
	// バックアップとは別の鍵空間にするため値を分けています
	DefaultLogArchivePassphrase = "LogArchiveKey"
)

type Config struct {
	DB  database.Config
	SFN struct {
		TaskToken string
	}
	EnableTracing bool
	Env           string
	Debug         bool
	SentryDSN     string

	Backup struct {
		Passphrase           string
		LogArchivePassphrase string
		Dir                  string
		// ActorID はスケジュールバックアップの作成者として記録するユーザーIDです
		ActorID int64
	}

	LoanSweep struct {
		GraceDays      int
		WorkerPoolSize int
	}
}

// IsLocal はローカル環境で実行されているかを返します
func (c *Config) IsLocal() bool {
	return c.Env == "LOCAL"
}

// envKeys は viper に束縛する環境変数の一覧です
var envKeys = []string{
	"ENV",
	"DEBUG",
	"SENTRY_DSN",
	"DB_HOST",
	"DB_PORT",
	"DB_USERNAME",
	"DB_PASSWORD",
	"DB_NAME",
	"DB_SSL_MODE",
	"DB_CONNECT_TIMEOUT",
	"SBCNTR_ENABLE_TRACING",
	"BACKUP_PASSPHRASE",
	"LOG_ARCHIVE_PASSPHRASE",
	"BACKUP_DIR",
	"BACKUP_ACTOR_ID",
	"LOAN_SWEEP_GRACE_DAYS",
	"WORKER_POOL_SIZE",
}

// LoadConfig は設定を読み込みます
// .env と .env.local があれば先に読み込み、環境変数の値で上書きされます
func LoadConfig(taskToken string) (*Config, error) {
	loadEnv()

	v := viper.New()
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USERNAME", "sbcntrapp")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "sbcntrapp")
	v.SetDefault("DB_CONNECT_TIMEOUT", 30*time.Second)
	v.SetDefault("BACKUP_PASSPHRASE", DefaultBackupPassphrase)
	v.SetDefault("LOG_ARCHIVE_PASSPHRASE", DefaultLogArchivePassphrase)
	v.SetDefault("BACKUP_DIR", "backups")
	v.SetDefault("BACKUP_ACTOR_ID", 1)
	v.SetDefault("LOAN_SWEEP_GRACE_DAYS", 0)
	v.SetDefault("WORKER_POOL_SIZE", 4)

	cfg := &Config{
		DB: database.Config{
			Host:           v.GetString("DB_HOST"),
			Port:           v.GetInt("DB_PORT"),
			UserName:       v.GetString("DB_USERNAME"),
			Password:       v.GetString("DB_PASSWORD"),
			DBName:         v.GetString("DB_NAME"),
			SSLMode:        v.GetString("DB_SSL_MODE"),
			ConnectTimeout: v.GetDuration("DB_CONNECT_TIMEOUT"),
		},
		Env:       v.GetString("ENV"),
		Debug:     v.GetBool("DEBUG"),
		SentryDSN: v.GetString("SENTRY_DSN"),
	}
	cfg.SFN.TaskToken = taskToken
	cfg.Backup.Passphrase = v.GetString("BACKUP_PASSPHRASE")
	cfg.Backup.LogArchivePassphrase = v.GetString("LOG_ARCHIVE_PASSPHRASE")
	cfg.Backup.Dir = v.GetString("BACKUP_DIR")
	cfg.Backup.ActorID = v.GetInt64("BACKUP_ACTOR_ID")
	cfg.LoanSweep.GraceDays = v.GetInt("LOAN_SWEEP_GRACE_DAYS")
	cfg.LoanSweep.WorkerPoolSize = v.GetInt("WORKER_POOL_SIZE")
	if cfg.LoanSweep.WorkerPoolSize <= 0 {
		cfg.LoanSweep.WorkerPoolSize = 1
	}

	// 環境変数[SBCNTR_ENABLE_TRACING]を見てトレースを有効にする。対応しているTracingはAWS_XRAYのみ。
	// 環境変数[AWS_XRAY_SDK_DISABLED]がtrueの場合は必ずトレースを無効にする。
	enableKey := v.GetString("SBCNTR_ENABLE_TRACING")
	if !sdkDisabled() && (strings.ToLower(enableKey) == "true" || enableKey == "1") {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "FALSE")
		cfg.EnableTracing = true
	} else {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
		cfg.EnableTracing = false
	}
	cfg.DB.EnableTracing = cfg.EnableTracing

	return cfg, nil
}

// loadEnv はカレントディレクトリの .env ファイルを読み込みます
// 既に設定されている環境変数は上書きしません
func loadEnv() {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}
}

// Check if SDK is disabled
func sdkDisabled() bool {
	disableKey := os.Getenv("AWS_XRAY_SDK_DISABLED")
	return strings.ToLower(disableKey) == "true"
}
