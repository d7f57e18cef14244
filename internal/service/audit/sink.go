package audit

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
	"go.uber.org/zap"
)

// Entry は業務操作から渡される操作ログです
type Entry struct {
	// ActorID が nil の場合はシステムによる操作として記録します
	ActorID   *int64
	Action    model.AuditAction
	Timestamp time.Time
	Details   string
}

// Sink は操作ログの書き込み先です
// Record は失敗しても呼び出し元の業務操作を失敗させません
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

// ErrorHandler は操作ログの記録に失敗したときに呼ばれます
type ErrorHandler func(ctx context.Context, entry Entry, err error)

// Origin は操作元の端末情報です
type Origin struct {
	IPAddress  string
	DeviceInfo string
}

// DetectOrigin は実行中のホストの端末情報を取得します
// 取得できない項目は空文字になります
func DetectOrigin() Origin {
	hostname, _ := os.Hostname()
	return Origin{
		IPAddress:  firstNonLoopbackIP(),
		DeviceInfo: fmt.Sprintf("%s %s/%s", hostname, runtime.GOOS, runtime.GOARCH),
	}
}

func firstNonLoopbackIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// RepositorySink は操作ログを logs テーブルに書き込みます
type RepositorySink struct {
	db      repository.Querier
	repo    repository.AuditRepository
	origin  Origin
	clock   func() time.Time
	onError ErrorHandler
}

// Option は RepositorySink の設定です
type Option func(*RepositorySink)

// WithErrorHandler は記録失敗時の通知先を追加します
func WithErrorHandler(h ErrorHandler) Option {
	return func(s *RepositorySink) {
		s.onError = h
	}
}

// WithClock は Timestamp が未設定のときに使う時計を差し替えます
func WithClock(clock func() time.Time) Option {
	return func(s *RepositorySink) {
		s.clock = clock
	}
}

// NewRepositorySink は新しいRepositorySinkを作成します
func NewRepositorySink(db repository.Querier, repo repository.AuditRepository, origin Origin, opts ...Option) *RepositorySink {
	s := &RepositorySink{
		db:     db,
		repo:   repo,
		origin: origin,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record は操作ログを書き込みます
// 失敗はエラーレベルでログに出力し (SENTRY_DSN設定時はSentryにも送信)、ErrorHandler に通知します
func (s *RepositorySink) Record(ctx context.Context, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock()
	}

	record := &model.AuditEntry{
		ActorID:    entry.ActorID,
		Action:     entry.Action,
		Timestamp:  entry.Timestamp,
		Details:    nullIfEmpty(entry.Details),
		IPAddress:  nullIfEmpty(s.origin.IPAddress),
		DeviceInfo: nullIfEmpty(s.origin.DeviceInfo),
	}

	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to record audit entry: %w", err),
			zap.String("action", string(entry.Action)),
			zap.String("details", entry.Details),
		)
		if s.onError != nil {
			s.onError(ctx, entry, err)
		}
	}
}

// nullIfEmpty は空文字列をNULLとして保存するために nil を返します
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
