// Package logarchive は操作ログのアーカイブ (書き出しと削除) と取り込みを担当します
// アーカイブファイルはバックアップと同じ形式で暗号化しますが、鍵は別のパスフレーズから作ります
package logarchive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/renameio/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/utils"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/audit"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/snapshot"
	"go.uber.org/zap"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// archivedLog はアーカイブファイル内の操作ログ1件です
type archivedLog struct {
	UserID     *int64  `json:"user_id"`
	Action     string  `json:"action"`
	Timestamp  string  `json:"timestamp"`
	Details    *string `json:"details"`
	IPAddress  *string `json:"ip_address"`
	DeviceInfo *string `json:"device_info"`
}

// Service は操作ログのアーカイブを担当します
type Service struct {
	db    repository.Database
	logs  repository.AuditRepository
	codec *snapshot.Codec
	key   []byte
	audit audit.Sink
}

// NewService は新しいServiceを作成します
// key はアーカイブファイルの鍵で、snapshot.DeriveKey で作成します
func NewService(
	db repository.Database,
	logs repository.AuditRepository,
	codec *snapshot.Codec,
	key []byte,
	sink audit.Sink,
) *Service {
	return &Service{
		db:    db,
		logs:  logs,
		codec: codec,
		key:   key,
		audit: sink,
	}
}

// Archive は日付が from から to (両端を含む) の操作ログを path に書き出し、DBから削除します
// 対象がない場合は ErrNoLogsInRange を返します
func (s *Service) Archive(ctx context.Context, from, to time.Time, path string, actorID int64) (int, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "LogArchiveService.Archive")
	defer seg.Close(nil)

	if utils.IsBeforeDate(to, from) {
		return 0, model.ErrInvalidDateRange
	}

	var (
		archived int
		written  bool
	)
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	err := repository.InTx(ctx, s.db, opts, func(tx repository.Tx) error {
		entries, err := s.logs.ListByDateRange(ctx, tx, from, to)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return model.ErrNoLogsInRange
		}

		payload, err := jsonAPI.Marshal(lo.Map(entries, func(e model.AuditEntry, _ int) archivedLog {
			return toArchived(e)
		}))
		if err != nil {
			return fmt.Errorf("failed to encode logs: %w", err)
		}

		blob, err := s.codec.Seal(payload, s.key)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("failed to create archive directory: %w", err)
		}
		if err := renameio.WriteFile(path, blob, 0o600); err != nil {
			return fmt.Errorf("failed to write archive file: %w", err)
		}
		written = true

		// 書き出した行だけを削除するため、一覧と同じスナップショットで削除する
		deleted, err := s.logs.DeleteByDateRange(ctx, tx, from, to)
		if err != nil {
			return err
		}
		if int(deleted) != len(entries) {
			logger.WarnCtx(ctx, "Archived and deleted log counts differ",
				zap.Int("archived", len(entries)),
				zap.Int64("deleted", deleted),
			)
		}

		archived = len(entries)
		return nil
	})
	if err != nil {
		// 削除できなかったログはDBに残るため、書き出したファイルは消しておく
		if written {
			_ = os.Remove(path)
		}
		seg.Close(err)
		return 0, err
	}

	logger.InfoCtx(ctx, "Logs archived", zap.String("path", path), zap.Int("count", archived))
	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(actorID),
		Action:  model.AuditLogsArchived,
		Details: fmt.Sprintf("Archived %d logs from %s to %s into %s",
			archived, from.Format(time.DateOnly), to.Format(time.DateOnly), path),
	})

	return archived, nil
}

// Import は path のアーカイブファイルの操作ログを1つのトランザクションで取り込みます
func (s *Service) Import(ctx context.Context, path string, actorID int64) (int, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "LogArchiveService.Import")
	defer seg.Close(nil)

	blob, err := os.ReadFile(path)
	if err != nil {
		seg.Close(err)
		return 0, fmt.Errorf("failed to read archive file: %w", err)
	}

	payload, err := snapshot.Open(blob, s.key)
	if err != nil {
		seg.Close(err)
		return 0, err
	}

	entries, err := decodeLogs(payload)
	if err != nil {
		seg.Close(err)
		return 0, err
	}

	if err := s.logs.InsertBatch(ctx, s.db, entries); err != nil {
		seg.Close(err)
		return 0, err
	}

	logger.InfoCtx(ctx, "Logs imported", zap.String("path", path), zap.Int("count", len(entries)))
	s.audit.Record(ctx, audit.Entry{
		ActorID: model.Actor(actorID),
		Action:  model.AuditLogsImported,
		Details: fmt.Sprintf("Imported %d logs from %s", len(entries), path),
	})

	return len(entries), nil
}

func toArchived(e model.AuditEntry) archivedLog {
	return archivedLog{
		UserID:     e.ActorID,
		Action:     string(e.Action),
		Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
		Details:    e.Details,
		IPAddress:  e.IPAddress,
		DeviceInfo: e.DeviceInfo,
	}
}

// decodeLogs はアーカイブのJSON配列を操作ログに変換します
func decodeLogs(payload []byte) ([]model.AuditEntry, error) {
	var probe interface{}
	if err := jsonAPI.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}
	if _, ok := probe.([]interface{}); !ok {
		return nil, fmt.Errorf("%w: archive is %T, not an array", model.ErrUnsupportedFormat, probe)
	}

	var logs []archivedLog
	if err := jsonAPI.Unmarshal(payload, &logs); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnsupportedFormat, err)
	}

	entries := make([]model.AuditEntry, 0, len(logs))
	for i, l := range logs {
		if l.Action == "" {
			return nil, fmt.Errorf("%w: log %d has no action", model.ErrUnsupportedFormat, i)
		}
		ts, err := parseTimestamp(l.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: log %d has invalid timestamp %q", model.ErrUnsupportedFormat, i, l.Timestamp)
		}
		entries = append(entries, model.AuditEntry{
			ActorID:    l.UserID,
			Action:     model.AuditAction(l.Action),
			Timestamp:  ts,
			Details:    l.Details,
			IPAddress:  l.IPAddress,
			DeviceInfo: l.DeviceInfo,
		})
	}
	return entries, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateTime,
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
