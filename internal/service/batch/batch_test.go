package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
)

// MockSFNClient はテスト用のStep Functionsクライアントです
type MockSFNClient struct {
	mu         sync.Mutex
	successes  []*sfn.SendTaskSuccessInput
	failures   []*sfn.SendTaskFailureInput
	successErr error
}

func (m *MockSFNClient) SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, params)
	return &sfn.SendTaskSuccessOutput{}, m.successErr
}

func (m *MockSFNClient) SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, params)
	return &sfn.SendTaskFailureOutput{}, nil
}

// MockSweeper はテスト用の貸出スイープです
type MockSweeper struct {
	mu       sync.Mutex
	stale    []model.Loan
	listErr  error
	errs     map[int64]error
	declined []int64
	asOf     time.Time
	grace    int
}

func (m *MockSweeper) ListStale(ctx context.Context, asOf time.Time, graceDays int) ([]model.Loan, error) {
	m.asOf = asOf
	m.grace = graceDays
	return m.stale, m.listErr
}

func (m *MockSweeper) AutoDecline(ctx context.Context, loanID int64) (*model.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[loanID]; err != nil {
		return nil, err
	}
	for _, l := range m.stale {
		if l.ID == loanID {
			m.declined = append(m.declined, loanID)
			l.Status = model.LoanStatusDeclined
			return &l, nil
		}
	}
	return nil, model.ErrLoanNotFound
}

// MockGameRepository はテスト用のモックリポジトリです
type MockGameRepository struct {
	calls int
	ids   []int64
	err   error
}

func (m *MockGameRepository) GetTitlesByIDs(ctx context.Context, q repository.Querier, ids []int64) (map[int64]string, error) {
	m.calls++
	m.ids = ids
	if m.err != nil {
		return nil, m.err
	}
	titles := map[int64]string{}
	for _, id := range ids {
		titles[id] = "Catan"
	}
	return titles, nil
}

var sweepNow = time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC)

func staleLoans(ids ...int64) []model.Loan {
	loans := make([]model.Loan, len(ids))
	for i, id := range ids {
		loans[i] = model.Loan{
			ID:         id,
			HoldingID:  1,
			BorrowerID: 100 + id,
			GameID:     10 + id%2,
			StartDate:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			EndDate:    time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
			Status:     model.LoanStatusRequested,
		}
	}
	return loans
}

func newTestLoanSweep(sweeper *MockSweeper, games *MockGameRepository, client *MockSFNClient, local bool) *LoanSweepBatchService {
	s := NewLoanSweepBatchService(nil, sweeper, games, NewTaskReporter(client, "token", local), 2, 3)
	s.clock = func() time.Time { return sweepNow }
	return s
}

func TestLoanSweepBatchService_Run(t *testing.T) {
	t.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
	ctx, seg := xray.BeginSegment(context.Background(), "TestLoanSweepBatchService_Run")
	defer seg.Close(nil)

	tests := []struct {
		name         string
		stale        []model.Loan
		errs         map[int64]error
		wantDeclined int
		wantSkipped  int
		wantErr      bool
	}{
		{
			name:  "0件",
			stale: []model.Loan{},
		},
		{
			name:         "複数件をすべて却下",
			stale:        staleLoans(1, 2, 3, 4, 5),
			wantDeclined: 5,
		},
		{
			name:         "状態が変わった貸出はスキップ",
			stale:        staleLoans(1, 2, 3),
			errs:         map[int64]error{2: model.ErrNotInRequestedState},
			wantDeclined: 2,
			wantSkipped:  1,
		},
		{
			name:    "帳簿の不整合はエラー",
			stale:   staleLoans(1, 2),
			errs:    map[int64]error{1: model.ErrAlreadyAtCapacity},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sweeper := &MockSweeper{stale: tt.stale, errs: tt.errs}
			games := &MockGameRepository{}
			client := &MockSFNClient{}

			err := newTestLoanSweep(sweeper, games, client, false).Run(ctx)

			if tt.wantErr {
				require.Error(t, err)
				assert.Empty(t, client.successes)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, sweepNow, sweeper.asOf)
			assert.Equal(t, 2, sweeper.grace)
			assert.Len(t, sweeper.declined, tt.wantDeclined)

			require.Len(t, client.successes, 1)
			var result LoanSweepResult
			require.NoError(t, jsonAPI.Unmarshal([]byte(*client.successes[0].Output), &result))
			assert.Equal(t, "token", *client.successes[0].TaskToken)
			assert.NotEmpty(t, result.RunID)
			assert.Equal(t, tt.wantDeclined, result.Declined)
			assert.Equal(t, tt.wantSkipped, result.Skipped)
			assert.Len(t, result.Notifications, tt.wantDeclined)
			for _, n := range result.Notifications {
				assert.Equal(t, "貸出リクエストが却下されました", n.Title)
				assert.Contains(t, n.Message, "Catan")
			}

			if tt.wantDeclined == 0 {
				assert.Zero(t, games.calls)
			} else {
				assert.Equal(t, 1, games.calls)
				assert.LessOrEqual(t, len(games.ids), 2, "ゲームIDは重複なしでまとめて取得する")
			}
		})
	}
}

func TestLoanSweepBatchService_Errors(t *testing.T) {
	t.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
	ctx := context.Background()

	t.Run("一覧の取得に失敗", func(t *testing.T) {
		sweeper := &MockSweeper{listErr: errors.New("connection refused")}
		client := &MockSFNClient{}

		err := newTestLoanSweep(sweeper, &MockGameRepository{}, client, false).Run(ctx)

		assert.Error(t, err)
		assert.Empty(t, client.successes)
	})

	t.Run("タイトルの取得に失敗", func(t *testing.T) {
		sweeper := &MockSweeper{stale: staleLoans(1)}
		client := &MockSFNClient{}

		err := newTestLoanSweep(sweeper, &MockGameRepository{err: errors.New("boom")}, client, false).Run(ctx)

		assert.Error(t, err)
		assert.Empty(t, client.successes)
	})

	t.Run("成功の通知に失敗", func(t *testing.T) {
		sweeper := &MockSweeper{stale: staleLoans(1)}
		client := &MockSFNClient{successErr: errors.New("throttled")}

		err := newTestLoanSweep(sweeper, &MockGameRepository{}, client, false).Run(ctx)

		assert.Error(t, err)
	})
}

func TestLoanSweepBatchService_Local(t *testing.T) {
	t.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
	sweeper := &MockSweeper{stale: staleLoans(1)}
	client := &MockSFNClient{}

	err := newTestLoanSweep(sweeper, &MockGameRepository{}, client, true).Run(context.Background())

	require.NoError(t, err)
	assert.Len(t, sweeper.declined, 1)
	assert.Empty(t, client.successes, "ローカル環境ではStep Functionsに通知しない")
}

func TestTaskReporter(t *testing.T) {
	ctx := context.Background()

	t.Run("タスクトークンがない", func(t *testing.T) {
		err := NewTaskReporter(&MockSFNClient{}, "", false).Success(ctx, map[string]int{})
		assert.Error(t, err)
	})

	t.Run("失敗の通知", func(t *testing.T) {
		client := &MockSFNClient{}
		require.NoError(t, NewTaskReporter(client, "token", false).Failure(ctx, errors.New("boom")))
		require.Len(t, client.failures, 1)
		assert.Equal(t, "boom", *client.failures[0].Cause)
	})

	t.Run("クライアントなし", func(t *testing.T) {
		assert.NoError(t, NewTaskReporter(nil, "", false).Success(ctx, nil))
		assert.NoError(t, NewTaskReporter(nil, "", false).Failure(ctx, errors.New("boom")))
	})
}

// MockBackupCreator はテスト用のバックアップ作成です
type MockBackupCreator struct {
	path      string
	createdBy int64
	err       error
}

func (m *MockBackupCreator) CreateBackup(ctx context.Context, path string, createdBy int64) (*model.BackupInfo, error) {
	m.path = path
	m.createdBy = createdBy
	if m.err != nil {
		return nil, m.err
	}
	return &model.BackupInfo{ID: 42, FilePath: path, CreatedBy: createdBy}, nil
}

func TestBackupBatchService_Run(t *testing.T) {
	t.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
	ctx := context.Background()

	t.Run("成功", func(t *testing.T) {
		creator := &MockBackupCreator{}
		client := &MockSFNClient{}
		s := NewBackupBatchService(creator, NewTaskReporter(client, "token", false), "/var/backups", 1)
		s.clock = func() time.Time { return sweepNow }

		require.NoError(t, s.Run(ctx))

		assert.Equal(t, "/var/backups/backup_20240510_030000.bin", creator.path)
		assert.Equal(t, int64(1), creator.createdBy)
		require.Len(t, client.successes, 1)
		var result BackupResult
		require.NoError(t, jsonAPI.Unmarshal([]byte(*client.successes[0].Output), &result))
		assert.Equal(t, int64(42), result.BackupID)
		assert.Equal(t, creator.path, result.FilePath)
	})

	t.Run("失敗", func(t *testing.T) {
		client := &MockSFNClient{}
		s := NewBackupBatchService(&MockBackupCreator{err: model.ErrTableReadFailed}, NewTaskReporter(client, "token", false), "/var/backups", 1)

		err := s.Run(ctx)

		assert.ErrorIs(t, err, model.ErrTableReadFailed)
		assert.Empty(t, client.successes)
	})
}
