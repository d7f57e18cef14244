package utils

import "time"

// DateOf は t の日付部分 (t のロケーションでの0時) を返します
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsBeforeDate は日付の粒度で a が b より前かを返します
func IsBeforeDate(a, b time.Time) bool {
	return DateOf(a).Before(DateOf(b.In(a.Location())))
}

// DaysBefore は t の日付から days 日前の日付を返します
func DaysBefore(t time.Time, days int) time.Time {
	return DateOf(t).AddDate(0, 0, -days)
}

// ParseDate は "2006-01-02" 形式の日付をローカルタイムゾーンの0時として解析します
// 時計 (time.Now) と同じタイムゾーンで日付を比較するためです
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, time.Local)
}
