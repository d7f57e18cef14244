// Package pgtest はPostgreSQLを使う統合テストの共通処理です
// TEST_DB_HOST が設定されていればそのDBを、なければtestcontainersで起動したコンテナを使います
// どちらも使えない環境では DB を呼んだテストはスキップされます
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
)

var (
	testDB      *repository.DB
	pgContainer *postgres.PostgresContainer
	skipReason  string
)

// Main はパッケージの TestMain から呼び出します
func Main(m *testing.M) {
	// テストではX-Rayを無効化する
	os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")

	ctx := context.Background()
	if err := setup(ctx); err != nil {
		skipReason = err.Error()
		fmt.Printf("PostgreSQL is not available, integration tests will be skipped: %v\n", err)
	}

	code := m.Run()

	if testDB != nil {
		testDB.Close()
	}
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}

	os.Exit(code)
}

func setup(ctx context.Context) error {
	dsn, err := dataSourceName(ctx)
	if err != nil {
		return err
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	testDB = repository.NewDB(db)

	if err := repository.ApplySchema(ctx, testDB); err != nil {
		return err
	}
	return nil
}

func dataSourceName(ctx context.Context) (string, error) {
	if host := os.Getenv("TEST_DB_HOST"); host != "" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host,
			getEnvOrDefault("TEST_DB_PORT", "5432"),
			getEnvOrDefault("TEST_DB_USER", "postgres"),
			getEnvOrDefault("TEST_DB_PASSWORD", "postgres"),
			getEnvOrDefault("TEST_DB_NAME", "test_db"),
		), nil
	}

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return "", fmt.Errorf("docker provider: %w", err)
	}
	defer provider.Close()
	if err := provider.Health(ctx); err != nil {
		return "", fmt.Errorf("docker is not healthy: %w", err)
	}

	pgContainer, err = postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	return pgContainer.ConnectionString(ctx, "sslmode=disable")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Tables はFK的に安全な順序のテーブル一覧です
var Tables = []string{
	"users", "games", "genres", "gamegenres", "usergames",
	"borrowings", "ratings", "chatmessages", "logs", "databasebackups",
}

// DB は空の状態にしたテスト用DBを返します
func DB(t *testing.T) *repository.DB {
	t.Helper()
	if testDB == nil {
		t.Skipf("integration test skipped: %s", skipReason)
	}

	_, err := testDB.ExecContext(context.Background(),
		"TRUNCATE users, games, genres, gamegenres, usergames, borrowings, ratings, chatmessages, logs, databasebackups RESTART IDENTITY CASCADE")
	if err != nil {
		t.Fatalf("failed to reset database: %v", err)
	}
	return testDB
}

// SeedUser はユーザーを作成してIDを返します
func SeedUser(t *testing.T, db *repository.DB, username string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowxContext(context.Background(),
		`INSERT INTO users (username, email, password_hash, role, is_blocked, date_joined)
		 VALUES ($1, $2, 'hash', 'user', FALSE, '2024-01-02 03:04:05.123456')
		 RETURNING user_id`,
		username, username+"@example.com",
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return id
}

// SeedGame はゲームを作成してIDを返します
func SeedGame(t *testing.T, db *repository.DB, title string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowxContext(context.Background(),
		`INSERT INTO games (title, description, publisher, release_year)
		 VALUES ($1, NULL, 'Kosmos', 1995)
		 RETURNING game_id`,
		title,
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed game: %v", err)
	}
	return id
}

// SeedHolding は在庫を作成してIDを返します
func SeedHolding(t *testing.T, db *repository.DB, ownerID, gameID int64, copies, available int) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowxContext(context.Background(),
		`INSERT INTO usergames (user_id, game_id, copies, available_copies)
		 VALUES ($1, $2, $3, $4)
		 RETURNING user_game_id`,
		ownerID, gameID, copies, available,
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed holding: %v", err)
	}
	return id
}

// SeedLoan は状態を指定して貸出リクエストを直接作成します (在庫は変更しません)
func SeedLoan(t *testing.T, db *repository.DB, holdingID, borrowerID int64, start, end time.Time, status string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowxContext(context.Background(),
		`INSERT INTO borrowings (lender_user_game_id, borrower_id, start_date, end_date, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING borrowing_id`,
		holdingID, borrowerID, start.Format(time.DateOnly), end.Format(time.DateOnly), status,
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed loan: %v", err)
	}
	return id
}

// Holding は在庫の現在値を返します
func Holding(t *testing.T, db *repository.DB, holdingID int64) (copies, available int) {
	t.Helper()
	err := db.QueryRowxContext(context.Background(),
		`SELECT copies, available_copies FROM usergames WHERE user_game_id = $1`, holdingID,
	).Scan(&copies, &available)
	if err != nil {
		t.Fatalf("failed to read holding: %v", err)
	}
	return copies, available
}
