package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
)

// integrityViolation は制約違反 (integrity_constraint_violation) のSQLSTATEクラスです
const integrityViolation pq.ErrorClass = "23"

// SnapshotRepository はテーブル単位の一括読み書きを担当するインターフェースです
// テーブル名とカラム名は呼び出し側の固定のスキーマ定義から渡されます
type SnapshotRepository interface {
	ReadTable(ctx context.Context, q Querier, table string, columns []string, orderBy []string) ([]map[string]interface{}, error)
	DeferConstraints(ctx context.Context, q Querier) error
	CheckConstraints(ctx context.Context, q Querier) error
	TruncateAll(ctx context.Context, q Querier, tables []string) error
	InsertRow(ctx context.Context, q Querier, table string, row map[string]interface{}) error
	ResetSequence(ctx context.Context, q Querier, table, column string) error
}

// SnapshotRepositoryImpl はgoquでSQLを組み立てて実行します
type SnapshotRepositoryImpl struct {
	dialect goqu.DialectWrapper
}

// NewSnapshotRepository は新しいSnapshotRepositoryを作成します
func NewSnapshotRepository() *SnapshotRepositoryImpl {
	return &SnapshotRepositoryImpl{dialect: goqu.Dialect("postgres")}
}

// ReadTable はテーブルの全行を orderBy の順で読み込みます
func (r *SnapshotRepositoryImpl) ReadTable(ctx context.Context, q Querier, table string, columns []string, orderBy []string) ([]map[string]interface{}, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "SnapshotRepository.ReadTable")
	defer seg.Close(nil)

	query, args, err := r.dialect.From(table).
		Select(lo.ToAnySlice(columns)...).
		Order(lo.Map(orderBy, func(col string, _ int) exp.OrderedExpression {
			return goqu.I(col).Asc()
		})...).
		ToSQL()
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to build select for %s: %w", table, err)
	}

	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	result := []map[string]interface{}{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			seg.Close(err)
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("error iterating %s rows: %w", table, err)
	}

	return result, nil
}

// DeferConstraints はトランザクション終了まで外部キー制約の検査を遅延させます
func (r *SnapshotRepositoryImpl) DeferConstraints(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, `SET CONSTRAINTS ALL DEFERRED`); err != nil {
		return fmt.Errorf("failed to defer constraints: %w", err)
	}
	return nil
}

// CheckConstraints は遅延させた制約をコミット前にその場で検査します
// 制約違反は違反したテーブルの挿入エラー (*model.TableError) として返します
func (r *SnapshotRepositoryImpl) CheckConstraints(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, `SET CONSTRAINTS ALL IMMEDIATE`); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Class() == integrityViolation {
			return &model.TableError{Op: model.TableOpInsert, Table: pqErr.Table, Row: -1, Err: err}
		}
		return fmt.Errorf("failed to check constraints: %w", err)
	}
	return nil
}

// TruncateAll は tables をまとめて TRUNCATE ... CASCADE します
func (r *SnapshotRepositoryImpl) TruncateAll(ctx context.Context, q Querier, tables []string) error {
	ctx, seg := xray.BeginSubsegment(ctx, "SnapshotRepository.TruncateAll")
	defer seg.Close(nil)

	query, _, err := r.dialect.Truncate(lo.ToAnySlice(tables)...).Cascade().ToSQL()
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to build truncate: %w", err)
	}

	if _, err := q.ExecContext(ctx, query); err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to truncate tables: %w", err)
	}

	return nil
}

// InsertRow は1行を挿入します
func (r *SnapshotRepositoryImpl) InsertRow(ctx context.Context, q Querier, table string, row map[string]interface{}) error {
	query, args, err := r.dialect.Insert(table).Rows(goqu.Record(row)).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build insert for %s: %w", table, err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	return nil
}

// ResetSequence はシリアル列のシーケンスを現在の最大値の次に合わせます
func (r *SnapshotRepositoryImpl) ResetSequence(ctx context.Context, q Querier, table, column string) error {
	query := fmt.Sprintf(
		`SELECT setval(pg_get_serial_sequence($1, $2), COALESCE(MAX(%s), 0) + 1, false) FROM %s`,
		pq.QuoteIdentifier(column),
		pq.QuoteIdentifier(table),
	)

	if _, err := q.ExecContext(ctx, query, table, column); err != nil {
		return fmt.Errorf("failed to reset sequence %s.%s: %w", table, column, err)
	}

	return nil
}
