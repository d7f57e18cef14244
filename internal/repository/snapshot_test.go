package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
)

// execQuerier は ExecContext だけを実装したテスト用の Querier です
type execQuerier struct {
	sqlx.ExtContext
	execError error
	queries   []string
}

func (q *execQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	q.queries = append(q.queries, query)
	if q.execError != nil {
		return nil, q.execError
	}
	return nil, nil
}

func (q *execQuerier) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errors.New("not implemented")
}

func (q *execQuerier) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errors.New("not implemented")
}

func TestSnapshotRepository_CheckConstraints(t *testing.T) {
	t.Run("違反なし", func(t *testing.T) {
		q := &execQuerier{}

		err := NewSnapshotRepository().CheckConstraints(context.Background(), q)

		assert.NoError(t, err)
		assert.Equal(t, []string{"SET CONSTRAINTS ALL IMMEDIATE"}, q.queries)
	})

	t.Run("外部キー違反は挿入エラー", func(t *testing.T) {
		q := &execQuerier{execError: &pq.Error{
			Code:    "23503",
			Message: `insert or update on table "usergames" violates foreign key constraint "usergames_user_id_fkey"`,
			Table:   "usergames",
		}}

		err := NewSnapshotRepository().CheckConstraints(context.Background(), q)

		assert.ErrorIs(t, err, model.ErrTableInsertFailed)
		assert.Equal(t, model.KindIntegrity, model.KindOf(err))
		var tableErr *model.TableError
		require.ErrorAs(t, err, &tableErr)
		assert.Equal(t, "usergames", tableErr.Table)
		assert.Equal(t, -1, tableErr.Row)
	})

	t.Run("制約違反以外は障害として扱う", func(t *testing.T) {
		q := &execQuerier{execError: &pq.Error{Code: "40001", Message: "could not serialize access"}}

		err := NewSnapshotRepository().CheckConstraints(context.Background(), q)

		assert.Error(t, err)
		assert.NotErrorIs(t, err, model.ErrTableInsertFailed)
		assert.Equal(t, model.KindCollaborator, model.KindOf(err))
	})
}
