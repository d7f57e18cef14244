package main

import (
	"context"

	"github.com/uma-arai/sbcntr-ludoteca/internal/app"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/batch"
)

// 開始日を過ぎても承認されていない貸出リクエストを却下し、借り手への通知をStep Functionsに返します
func main() {
	app.RunBatch("loansweep", func(a *app.App, reporter *batch.TaskReporter) func(ctx context.Context) error {
		return batch.NewLoanSweepBatchService(
			a.DB,
			a.Borrowing,
			a.Games,
			reporter,
			a.Config.LoanSweep.GraceDays,
			a.Config.LoanSweep.WorkerPoolSize,
		).Run
	})
}
