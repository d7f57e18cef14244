package model

import "time"

// Row は1行分のカラム名と値の対応です
// 値は nil, bool, int64, string のいずれかです
type Row map[string]any

// TableRows はテーブル名とその行の並びです
// 行がない場合の Rows は nil です
type TableRows struct {
	Table string
	Rows  []Row
}

// Snapshot はデータベース全体の内容です
// Tables は外部キー的に安全な順序 (親テーブルが先) で並びます
// 空のスライスと nil は同じ内容として扱い、復号やバックアップの結果は nil に揃えます
type Snapshot struct {
	Tables []TableRows
}

// Table は name のテーブルの行を返します
func (s *Snapshot) Table(name string) ([]Row, bool) {
	for _, t := range s.Tables {
		if t.Table == name {
			return t.Rows, true
		}
	}
	return nil, false
}

// RowCount はすべてのテーブルの行数の合計を返します
func (s *Snapshot) RowCount() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.Rows)
	}
	return n
}

// BackupInfo は databasebackups テーブルの1行です
type BackupInfo struct {
	ID        int64     `db:"backup_id" json:"backup_id"`
	CreatedAt time.Time `db:"backup_date" json:"backup_date"`
	FilePath  string    `db:"backup_file_path" json:"backup_file_path"`
	CreatedBy int64     `db:"created_by" json:"created_by"`
	// CreatorName は一覧取得時のみ users から結合されます
	CreatorName string `db:"username" json:"username,omitempty"`
}
