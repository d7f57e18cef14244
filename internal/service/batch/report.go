package batch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	jsoniter "github.com/json-iterator/go"
	"github.com/uma-arai/sbcntr-ludoteca/internal/common/logger"
	"go.uber.org/zap"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// SFNClient はバッチが使うStep Functionsの操作です
type SFNClient interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

// TaskReporter はバッチの結果をStep Functionsのタスクトークンに通知します
// ローカル環境またはクライアントがない場合は通知をスキップします
type TaskReporter struct {
	client    SFNClient
	taskToken string
	local     bool
}

// NewTaskReporter は新しいTaskReporterを作成します
func NewTaskReporter(client SFNClient, taskToken string, local bool) *TaskReporter {
	return &TaskReporter{
		client:    client,
		taskToken: taskToken,
		local:     local,
	}
}

func (r *TaskReporter) skip() bool {
	return r == nil || r.local || r.client == nil
}

// Success はタスクの成功を output と合わせて通知します
func (r *TaskReporter) Success(ctx context.Context, output any) error {
	if r.skip() {
		logger.InfoCtx(ctx, "Local environment detected. Skipping Step Functions task success notification")
		return nil
	}
	if r.taskToken == "" {
		return fmt.Errorf("SFN_TASK_TOKEN is not set in config")
	}

	body, err := jsonAPI.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal task output: %w", err)
	}

	_, err = r.client.SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(r.taskToken),
		Output:    aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}

	logger.InfoCtx(ctx, "Successfully sent task success", zap.ByteString("output", body))
	return nil
}

// Failure はタスクの失敗を通知します
func (r *TaskReporter) Failure(ctx context.Context, cause error) error {
	if r.skip() {
		return nil
	}

	_, err := r.client.SendTaskFailure(ctx, &sfn.SendTaskFailureInput{
		TaskToken: aws.String(r.taskToken),
		Error:     aws.String("Batch process failed"),
		Cause:     aws.String(cause.Error()),
	})
	if err != nil {
		return fmt.Errorf("failed to send task failure: %w", err)
	}
	return nil
}
