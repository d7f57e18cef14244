package snapshot

import (
	"fmt"
	"time"

	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
)

// ColumnKind はスナップショット上での値の型です
type ColumnKind int

const (
	KindInt ColumnKind = iota
	KindText
	KindBool
	KindDate
	KindTimestamp
)

func (k ColumnKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	}
	return fmt.Sprintf("ColumnKind(%d)", int(k))
}

// Column はテーブルのカラム定義です
type Column struct {
	Name string
	Kind ColumnKind
}

// Table はバックアップ対象のテーブル定義です
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	// Serial はシリアル列の名前です (ない場合は空)
	Serial string
}

// Column は name のカラム定義を返します
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames はカラム名を定義順に返します
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Tables はバックアップ対象のテーブルを外部キー的に安全な順序 (親が先) で並べたものです
// リストアはこの順序で挿入します
var Tables = []Table{
	{
		Name: "users",
		Columns: []Column{
			{"user_id", KindInt},
			{"username", KindText},
			{"email", KindText},
			{"password_hash", KindText},
			{"role", KindText},
			{"is_blocked", KindBool},
			{"date_joined", KindTimestamp},
		},
		PrimaryKey: []string{"user_id"},
		Serial:     "user_id",
	},
	{
		Name: "games",
		Columns: []Column{
			{"game_id", KindInt},
			{"title", KindText},
			{"description", KindText},
			{"publisher", KindText},
			{"release_year", KindInt},
		},
		PrimaryKey: []string{"game_id"},
		Serial:     "game_id",
	},
	{
		Name: "genres",
		Columns: []Column{
			{"genre_id", KindInt},
			{"name", KindText},
		},
		PrimaryKey: []string{"genre_id"},
		Serial:     "genre_id",
	},
	{
		Name: "gamegenres",
		Columns: []Column{
			{"game_id", KindInt},
			{"genre_id", KindInt},
		},
		PrimaryKey: []string{"game_id", "genre_id"},
	},
	{
		Name: "usergames",
		Columns: []Column{
			{"user_game_id", KindInt},
			{"user_id", KindInt},
			{"game_id", KindInt},
			{"copies", KindInt},
			{"available_copies", KindInt},
		},
		PrimaryKey: []string{"user_game_id"},
		Serial:     "user_game_id",
	},
	{
		Name: "borrowings",
		Columns: []Column{
			{"borrowing_id", KindInt},
			{"lender_user_game_id", KindInt},
			{"borrower_id", KindInt},
			{"start_date", KindDate},
			{"end_date", KindDate},
			{"status", KindText},
		},
		PrimaryKey: []string{"borrowing_id"},
		Serial:     "borrowing_id",
	},
	{
		Name: "ratings",
		Columns: []Column{
			{"rating_id", KindInt},
			{"user_id", KindInt},
			{"game_id", KindInt},
			{"rating_value", KindInt},
		},
		PrimaryKey: []string{"rating_id"},
		Serial:     "rating_id",
	},
	{
		Name: "chatmessages",
		Columns: []Column{
			{"message_id", KindInt},
			{"sender_id", KindInt},
			{"receiver_id", KindInt},
			{"content", KindText},
			{"sent_at", KindTimestamp},
			{"is_read", KindBool},
		},
		PrimaryKey: []string{"message_id"},
		Serial:     "message_id",
	},
	{
		Name: "logs",
		Columns: []Column{
			{"log_id", KindInt},
			{"user_id", KindInt},
			{"action", KindText},
			{"timestamp", KindTimestamp},
			{"details", KindText},
			{"ip_address", KindText},
			{"device_info", KindText},
		},
		PrimaryKey: []string{"log_id"},
		Serial:     "log_id",
	},
	{
		Name: "databasebackups",
		Columns: []Column{
			{"backup_id", KindInt},
			{"backup_date", KindTimestamp},
			{"backup_file_path", KindText},
			{"created_by", KindInt},
		},
		PrimaryKey: []string{"backup_id"},
		Serial:     "backup_id",
	},
}

// LookupTable は name のテーブル定義を返します
func LookupTable(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// TableNames はテーブル名を定義順に返します
func TableNames() []string {
	names := make([]string, len(Tables))
	for i, t := range Tables {
		names[i] = t.Name
	}
	return names
}

// legacyTimestampLayout はタイムゾーンを持たない日時の形式です
const legacyTimestampLayout = "2006-01-02T15:04:05"

// normalizeValue はDBから読み込んだ値をスナップショットの値に変換します
func normalizeValue(kind ColumnKind, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch kind {
	case KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		case int:
			return int64(n), nil
		}
	case KindText:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindDate:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.DateOnly), nil
		}
	case KindTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339Nano), nil
		}
	}

	return nil, fmt.Errorf("unexpected %T for %s column", v, kind)
}

// checkValue はスナップショットの値がカラムの型に合うかを検査し、挿入に使う値を返します
// nil はどの型でも許可し、NOT NULL 制約はDBで検査します
func checkValue(kind ColumnKind, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch kind {
	case KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		}
	case KindText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindDate:
		if s, ok := v.(string); ok {
			if _, err := time.Parse(time.DateOnly, s); err == nil {
				return s, nil
			}
		}
	case KindTimestamp:
		if s, ok := v.(string); ok {
			if _, err := parseTimestamp(s); err == nil {
				return s, nil
			}
		}
	}

	return nil, model.ErrUnsupportedFormat
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(legacyTimestampLayout, s)
}
