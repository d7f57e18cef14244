// Package app は設定からリポジトリとサービスを組み立てます
// 管理CLIとバッチはここで作成した App を通して各サービスを使います
package app

import (
	"context"
	"fmt"

	"github.com/uma-arai/sbcntr-ludoteca/internal/common/config"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/database"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/audit"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/borrowing"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/event"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/inventory"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/logarchive"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/snapshot"
	"go.uber.org/zap"
)

// App はプロセス内で共有するコンポーネントです
type App struct {
	Config *config.Config
	DB     *repository.DB

	Events     *event.Bus
	Audit      audit.Sink
	Games      repository.GameRepository
	Inventory  *inventory.Service
	Borrowing  *borrowing.Service
	Snapshot   *snapshot.Service
	LogArchive *logarchive.Service
}

// New はDBに接続してサービスを組み立てます
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	conn, err := database.NewDB(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return Wire(cfg, repository.NewDB(conn.DB)), nil
}

// Wire は接続済みの db でサービスを組み立てます
func Wire(cfg *config.Config, db *repository.DB) *App {
	holdings := repository.NewHoldingRepository()
	loans := repository.NewLoanRepository()

	bus := event.NewBus()
	bus.Subscribe(logEvent)

	sink := audit.NewRepositorySink(db, repository.NewAuditRepository(), audit.DetectOrigin())
	inv := inventory.NewService(db, holdings, loans, sink, bus)
	codec := snapshot.NewCodec()

	return &App{
		Config:    cfg,
		DB:        db,
		Events:    bus,
		Audit:     sink,
		Games:     repository.NewGameRepository(),
		Inventory: inv,
		Borrowing: borrowing.NewService(db, loans, inv, sink, bus),
		Snapshot: snapshot.NewService(
			db,
			repository.NewSnapshotRepository(),
			repository.NewBackupRepository(),
			snapshot.DeriveKey(cfg.Backup.Passphrase),
			sink,
			snapshot.WithCodec(codec),
		),
		LogArchive: logarchive.NewService(
			db,
			repository.NewAuditRepository(),
			codec,
			snapshot.DeriveKey(cfg.Backup.LogArchivePassphrase),
			sink,
		),
	}
}

// Close は終了処理を行います
func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

func logEvent(ctx context.Context, e model.DomainEvent) {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.Int64("actor_id", e.ActorID),
	}
	if e.Loan != nil {
		fields = append(fields, zap.Int64("loan_id", e.Loan.ID), zap.String("status", string(e.Loan.Status)))
	}
	if e.Holding != nil {
		fields = append(fields, zap.Int64("holding_id", e.Holding.ID), zap.Int("available_copies", e.Holding.AvailableCopies))
	}
	logger.InfoCtx(ctx, "Domain event published", fields...)
}
