package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/config"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/utils"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/batch"
	"go.uber.org/zap"
)

const projectName = "sbcntr-ludoteca"

// BatchFactory は組み立て済みの App からバッチ処理を作成します
type BatchFactory func(a *App, reporter *batch.TaskReporter) func(ctx context.Context) error

// RunBatch はStep Functionsから起動されるバッチの共通の起動処理です
// 最後の引数をタスクトークンとして受け取り (ENV=LOCAL の場合は不要)、
// 失敗した場合は SendTaskFailure を送って終了コード1で終了します
func RunBatch(name string, factory BatchFactory) {
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	flag.Parse()

	// ENV=LOCALの場合はタスクトークンを取得しない
	taskToken := "DUMMY_TASK_TOKEN"
	if os.Getenv("ENV") != "LOCAL" {
		if flag.NArg() == 0 || flag.Arg(flag.NArg()-1) == "" {
			fmt.Fprintln(os.Stderr, "Task token is required")
			os.Exit(1)
		}
		taskToken = flag.Arg(flag.NArg() - 1)
	}

	cfg, err := config.LoadConfig(taskToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\nStack trace:\n%s\n", err, debug.Stack())
		os.Exit(1)
	}

	if err := logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags:      map[string]string{"batch": name},
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(2 * time.Second)

	configureTracing(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Step Functionsクライアントの初期化
	var sfnClient batch.SFNClient
	if !cfg.IsLocal() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Fatal("Failed to load AWS config", zap.Error(utils.GetStackWithError(err)))
		}
		sfnClient = sfn.NewFromConfig(awsCfg)
	}
	reporter := batch.NewTaskReporter(sfnClient, cfg.SFN.TaskToken, cfg.IsLocal())

	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName+"-"+name)
		defer seg.Close(nil)

		if err := seg.AddMetadata("task_token", taskToken); err != nil {
			logger.Warn("Failed to add task_token metadata", zap.Error(err))
		}
		if err := seg.AddMetadata("timeout", timeout.String()); err != nil {
			logger.Warn("Failed to add timeout metadata", zap.Error(err))
		}
	}

	a, err := New(ctx, cfg)
	if err != nil {
		_ = reporter.Failure(ctx, err)
		logger.Fatal("Failed to create service", zap.Error(utils.GetStackWithError(err)))
	}
	defer a.Close()

	run := factory(a, reporter)

	// シグナルハンドリングの設定
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, *timeout, run)
	}()

	select {
	case sig := <-sigChan:
		logger.Warn("Received signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		if err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("batch process failed: %w", err))

			// 通知には打ち切られていないコンテキストを使う
			if failErr := reporter.Failure(context.Background(), err); failErr != nil {
				logger.Error(failErr)
			}

			logger.Sync(2 * time.Second)
			a.Close()
			os.Exit(1)
		}
		logger.Info("Batch process completed successfully")
	}
}

// configureTracing はX-Rayの設定を行います
func configureTracing(cfg *config.Config) {
	if !cfg.EnableTracing {
		return
	}

	if err := xray.Configure(xray.Config{
		DaemonAddr:     "127.0.0.1:2000", // X-Rayデーモンのアドレス
		ServiceVersion: "1.0.0",
	}); err != nil {
		logger.Warn("Failed to configure X-Ray", zap.Error(err))
		// X-Ray設定失敗時はデフォルトの設定を使用
		if configErr := xray.Configure(xray.Config{}); configErr != nil {
			logger.Fatal("Failed to configure default X-Ray settings", zap.Error(configErr))
		}
	}
	os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
}
