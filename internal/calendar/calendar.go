// Package calendar は週キー・日キーの導出と週境界の計算を提供する。
// 同期処理はすべてここで導出したキーでバケットを分割する。
package calendar

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

const (
	// dayKeyLayout は日キーのフォーマット。
	dayKeyLayout = "2006-01-02"
	// daysPerWeek は1週間の日数。
	daysPerWeek = 7
)

// weekKeyPattern は週キー（例: 2025-W46）の形式。
var weekKeyPattern = regexp.MustCompile(`^(\d{4})-W(\d{1,2})$`)

// WeekKeyOf は時刻が属するISO-8601週の週キーを返す。
// 時刻自身のロケーションで日付に正規化してから、木曜日基準で週番号を求める。
// 同じ月曜〜日曜の範囲の時刻は常に同じキーになる。
func WeekKeyOf(t time.Time) string {
	thursday := thursdayOf(civilDate(t))
	isoYear := thursday.Year()
	firstThursday := thursdayOf(time.Date(isoYear, time.January, 4, 0, 0, 0, 0, time.UTC))

	days := thursday.Sub(firstThursday).Hours() / 24
	week := 1 + int(math.Round(days/daysPerWeek))

	return fmt.Sprintf("%d-W%d", isoYear, week)
}

// DayKeyOf は時刻をUTC基準のYYYY-MM-DD形式の日キーに変換する。
// 呼び出し元のタイムゾーンに依存しない。
func DayKeyOf(t time.Time) string {
	return t.UTC().Format(dayKeyLayout)
}

// StartOfWeek は時刻が属する週の月曜日 00:00:00 を時刻自身のロケーションで返す。
func StartOfWeek(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d-mondayOffset(t.Weekday()), 0, 0, 0, 0, t.Location())
}

// AddWeeks は週単位で日付を前後に移動する。前週・翌週への移動に使う。
func AddWeeks(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n*daysPerWeek)
}

// WeekDays は週の開始日から7日分の日キーを返す。
func WeekDays(weekStart time.Time) []string {
	start := StartOfWeek(weekStart)
	days := make([]string, 0, daysPerWeek)
	for i := 0; i < daysPerWeek; i++ {
		d := start.AddDate(0, 0, i)
		// 日キーはUTC基準のため、暦日をUTCの正午に置き換えて日付ずれを防ぐ
		days = append(days, DayKeyOf(time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, time.UTC)))
	}
	return days
}

// ParseWeekKey は週キーを年と週番号に分解する。
// 形式が不正、または週番号が1〜53の範囲外の場合はエラーを返す。
func ParseWeekKey(key string) (year int, week int, err error) {
	m := weekKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid week key: %q", key)
	}
	year, _ = strconv.Atoi(m[1])
	week, _ = strconv.Atoi(m[2])
	if week < 1 || week > 53 {
		return 0, 0, fmt.Errorf("week number out of range: %q", key)
	}
	return year, week, nil
}

// ParseDayKey は日キーをUTCの日付に変換する。
func ParseDayKey(key string) (time.Time, error) {
	t, err := time.Parse(dayKeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day key: %q: %w", key, err)
	}
	return t, nil
}

// WeekStartOf は週キーが表す週の月曜日（UTCの0時）を返す。
// 非正規形（2026-W01 など）やその年に存在しない週番号はエラーになる。
func WeekStartOf(key string) (time.Time, error) {
	year, week, err := ParseWeekKey(key)
	if err != nil {
		return time.Time{}, err
	}
	if key != fmt.Sprintf("%d-W%d", year, week) {
		return time.Time{}, fmt.Errorf("non-canonical week key: %q", key)
	}
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	monday := jan4.AddDate(0, 0, -mondayOffset(jan4.Weekday())+(week-1)*daysPerWeek)
	if WeekKeyOf(monday) != key {
		return time.Time{}, fmt.Errorf("week %d does not exist in %d", week, year)
	}
	return monday, nil
}

// IsWeekKey は正規形の有効な週キーかを返す。
func IsWeekKey(key string) bool {
	_, err := WeekStartOf(key)
	return err == nil
}

// IsDayKey は有効な日キーかを返す。
func IsDayKey(key string) bool {
	_, err := ParseDayKey(key)
	return err == nil
}

// civilDate は時刻のロケーションでの暦日をUTCの0時として返す。
// 夏時間の切り替えで日数計算がずれないようにするため。
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// thursdayOf は同じ週の木曜日を返す。
func thursdayOf(day time.Time) time.Time {
	return day.AddDate(0, 0, 3-mondayOffset(day.Weekday()))
}

// mondayOffset は月曜日=0〜日曜日=6の曜日番号を返す。
func mondayOffset(wd time.Weekday) int {
	return (int(wd) + 6) % daysPerWeek
}
