package main

import (
	"context"

	"github.com/uma-arai/sbcntr-ludoteca/internal/app"
	"github.com/uma-arai/sbcntr-ludoteca/internal/service/batch"
)

// BACKUP_DIR にデータベース全体のバックアップを作成し、ファイルパスをStep Functionsに返します
func main() {
	app.RunBatch("backup", func(a *app.App, reporter *batch.TaskReporter) func(ctx context.Context) error {
		return batch.NewBackupBatchService(
			a.Snapshot,
			reporter,
			a.Config.Backup.Dir,
			a.Config.Backup.ActorID,
		).Run
	})
}
