package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/renameio/v2"
	"github.com/samber/lo"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/audit"
	"go.uber.org/zap"
)

// Service はデータベース全体のバックアップとリストアを担当します
type Service struct {
	db        repository.Database
	snapshots repository.SnapshotRepository
	backups   repository.BackupRepository
	codec     *Codec
	key       []byte
	audit     audit.Sink
	clock     func() time.Time
}

// Option は Service の設定です
type Option func(*Service)

// WithClock はバックアップ日時に使う時計を差し替えます
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithCodec は暗号化に使うCodecを差し替えます
func WithCodec(codec *Codec) Option {
	return func(s *Service) {
		s.codec = codec
	}
}

// NewService は新しいServiceを作成します
// key はバックアップファイルの鍵で、DeriveKey で作成します
func NewService(
	db repository.Database,
	snapshots repository.SnapshotRepository,
	backups repository.BackupRepository,
	key []byte,
	sink audit.Sink,
	opts ...Option,
) *Service {
	s := &Service{
		db:        db,
		snapshots: snapshots,
		backups:   backups,
		codec:     NewCodec(),
		key:       key,
		audit:     sink,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backup は全テーブルを1つの読み取り専用トランザクションで読み込みます
func (s *Service) Backup(ctx context.Context) (*model.Snapshot, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "SnapshotService.Backup")
	defer seg.Close(nil)

	snapshot := &model.Snapshot{Tables: make([]model.TableRows, 0, len(Tables))}
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

	err := repository.InTx(ctx, s.db, opts, func(tx repository.Tx) error {
		for _, table := range Tables {
			rows, err := s.readTable(ctx, tx, table)
			if err != nil {
				return err
			}
			snapshot.Tables = append(snapshot.Tables, model.TableRows{Table: table.Name, Rows: rows})
		}
		return nil
	})
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	return snapshot, nil
}

func (s *Service) readTable(ctx context.Context, q repository.Querier, table Table) ([]model.Row, error) {
	raw, err := s.snapshots.ReadTable(ctx, q, table.Name, table.ColumnNames(), table.PrimaryKey)
	if err != nil {
		return nil, &model.TableError{Op: model.TableOpRead, Table: table.Name, Row: -1, Err: err}
	}

	var rows []model.Row
	for _, values := range raw {
		row := make(model.Row, len(table.Columns))
		for _, column := range table.Columns {
			v, err := normalizeValue(column.Kind, values[column.Name])
			if err != nil {
				return nil, &model.TableError{
					Op:    model.TableOpRead,
					Table: table.Name,
					Row:   -1,
					Err:   fmt.Errorf("column %s: %w", column.Name, err),
				}
			}
			row[column.Name] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CreateBackup はバックアップを暗号化して path に書き込み、履歴を登録します
// 失敗した場合は履歴を登録しません
func (s *Service) CreateBackup(ctx context.Context, path string, createdBy int64) (*model.BackupInfo, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "SnapshotService.CreateBackup")
	defer seg.Close(nil)

	snapshot, err := s.Backup(ctx)
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	blob, err := s.codec.Encode(snapshot, s.key)
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	if err := writeFile(path, blob); err != nil {
		seg.Close(err)
		return nil, err
	}

	info := &model.BackupInfo{
		CreatedAt: s.clock(),
		FilePath:  path,
		CreatedBy: createdBy,
	}
	if err := s.backups.Insert(ctx, s.db, info); err != nil {
		// 履歴のないバックアップファイルは残さない
		if rmErr := os.Remove(path); rmErr != nil {
			logger.WarnCtx(ctx, "Failed to remove unregistered backup file",
				zap.String("path", path), zap.Error(rmErr))
		}
		seg.Close(err)
		return nil, err
	}

	logger.InfoCtx(ctx, "Backup created",
		zap.String("path", path),
		zap.Int("tables", len(snapshot.Tables)),
		zap.Int("rows", snapshot.RowCount()),
	)
	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(createdBy),
		Action:  model.AuditDatabaseBackup,
		Details: fmt.Sprintf("Database backup created at %s (%d rows)", path, snapshot.RowCount()),
	})

	return info, nil
}

// Restore はデータベースの内容を snapshot で置き換えます
// 検証に失敗した場合はトランザクションを開始せず、挿入または制約の検査に失敗した場合はリストア前の状態に戻ります
func (s *Service) Restore(ctx context.Context, snapshot *model.Snapshot) error {
	ctx, seg := xray.BeginSubsegment(ctx, "SnapshotService.Restore")
	defer seg.Close(nil)

	records, err := prepareRecords(snapshot)
	if err != nil {
		seg.Close(err)
		return err
	}

	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	err = repository.InTx(ctx, s.db, opts, func(tx repository.Tx) error {
		if err := s.snapshots.DeferConstraints(ctx, tx); err != nil {
			return err
		}
		if err := s.snapshots.TruncateAll(ctx, tx, TableNames()); err != nil {
			return err
		}

		for _, table := range Tables {
			for i, record := range records[table.Name] {
				if err := s.snapshots.InsertRow(ctx, tx, table.Name, record); err != nil {
					return &model.TableError{Op: model.TableOpInsert, Table: table.Name, Row: i, Err: err}
				}
			}
			if table.Serial != "" {
				if err := s.snapshots.ResetSequence(ctx, tx, table.Name, table.Serial); err != nil {
					return err
				}
			}
		}

		// 遅延させた外部キーの違反もコミットより前に挿入エラーとして検出する
		return s.snapshots.CheckConstraints(ctx, tx)
	})
	if err != nil {
		seg.Close(err)
		return err
	}

	logger.InfoCtx(ctx, "Database restored", zap.Int("rows", snapshot.RowCount()))
	return nil
}

// prepareRecords はスナップショットを検証し、テーブルごとの挿入用の値に変換します
func prepareRecords(snapshot *model.Snapshot) (map[string][]map[string]interface{}, error) {
	records := make(map[string][]map[string]interface{}, len(snapshot.Tables))

	for _, rows := range snapshot.Tables {
		table, ok := LookupTable(rows.Table)
		if !ok {
			return nil, fmt.Errorf("%w: %q", model.ErrUnknownTable, rows.Table)
		}
		if _, dup := records[table.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate table %q", model.ErrUnsupportedFormat, table.Name)
		}

		prepared := make([]map[string]interface{}, 0, len(rows.Rows))
		for i, row := range rows.Rows {
			if len(row) == 0 {
				return nil, fmt.Errorf("%w: row %d of %s has no columns", model.ErrUnsupportedFormat, i, table.Name)
			}

			record := make(map[string]interface{}, len(row))
			for name, value := range row {
				column, ok := table.Column(name)
				if !ok {
					return nil, fmt.Errorf("%w: %s.%s", model.ErrUnknownColumn, table.Name, name)
				}
				v, err := checkValue(column.Kind, value)
				if err != nil {
					return nil, fmt.Errorf("%w: row %d of %s has %T for %s column %s",
						err, i, table.Name, value, column.Kind, name)
				}
				record[name] = v
			}
			prepared = append(prepared, record)
		}
		records[table.Name] = prepared
	}

	return records, nil
}

// RestoreFromFile は path のバックアップファイルを復号してリストアします
func (s *Service) RestoreFromFile(ctx context.Context, path string, actorID int64) error {
	ctx, seg := xray.BeginSubsegment(ctx, "SnapshotService.RestoreFromFile")
	defer seg.Close(nil)

	blob, err := os.ReadFile(path)
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	snapshot, err := Decode(blob, s.key)
	if err != nil {
		seg.Close(err)
		return err
	}

	if err := s.Restore(ctx, snapshot); err != nil {
		seg.Close(err)
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(actorID),
		Action:  model.AuditDatabaseRestore,
		Details: fmt.Sprintf("Database restored from %s (%s)", path,
			lo.Reduce(snapshot.Tables, func(acc string, t model.TableRows, i int) string {
				if i > 0 {
					acc += ", "
				}
				return acc + fmt.Sprintf("%s=%d", t.Table, len(t.Rows))
			}, "")),
	})

	return nil
}

// ListBackups はバックアップ履歴を新しい順に返します
func (s *Service) ListBackups(ctx context.Context) ([]model.BackupInfo, error) {
	return s.backups.List(ctx, s.db)
}

// writeFile は blob を path に原子的に書き込みます
// 失敗した場合、path には何も残りません
func writeFile(path string, blob []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := renameio.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	return nil
}
