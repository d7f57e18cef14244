package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/lib/pq"
)

// GameRepository はゲーム情報の参照を担当するインターフェースです
type GameRepository interface {
	GetTitlesByIDs(ctx context.Context, q Querier, ids []int64) (map[int64]string, error)
}

// GameRepositoryImpl はゲーム情報の参照を担当します
type GameRepositoryImpl struct{}

// NewGameRepository は新しいGameRepositoryを作成します
func NewGameRepository() *GameRepositoryImpl {
	return &GameRepositoryImpl{}
}

// GetTitlesByIDs は指定されたゲームIDのタイトルを返します
// 存在しないIDは結果に含まれません
func (r *GameRepositoryImpl) GetTitlesByIDs(ctx context.Context, q Querier, ids []int64) (map[int64]string, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "GameRepository.GetTitlesByIDs")
	defer seg.Close(nil)

	titles := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}

	rows, err := q.QueryxContext(ctx, `SELECT game_id, title FROM games WHERE game_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			seg.Close(err)
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		titles[id] = title
	}

	if err := rows.Err(); err != nil {
		seg.Close(err)
		return nil, fmt.Errorf("error iterating games: %w", err)
	}

	return titles, nil
}
