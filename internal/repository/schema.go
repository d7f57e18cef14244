package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema はテーブルが存在しなければ作成します
func ApplySchema(ctx context.Context, q Querier) error {
	ctx, seg := xray.BeginSubsegment(ctx, "Repository.ApplySchema")
	defer seg.Close(nil)

	if _, err := q.ExecContext(ctx, schemaSQL); err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
