package models

import (
	"fmt"
	"time"
)

// AggregateKind 缓存聚合的种类
type AggregateKind string

const (
	// AggregateStatus 某 patient/day 的融合用药状态（ReconciledStatusSet）
	AggregateStatus AggregateKind = "status"
	// AggregateDaily 某 patient/day 的日报聚合（mood/sleep/flags）
	AggregateDaily AggregateKind = "daily"
)

// DayFormat 缓存 key 与 API 参数使用的日期格式
const DayFormat = "2006-01-02"

// CacheKey 一个已计算聚合的标识
//
// 失效与计算使用同一组合 (kind, entity, day)：变更事件必须解析到
// 精确的 entity + day，绝不允许粗粒度桶失效（避免连带标记无关条目）。
type CacheKey struct {
	Kind     AggregateKind `json:"kind"`
	EntityID string        `json:"entity_id"`
	Day      string        `json:"day"`
}

// String 作为 map key / Redis key 后缀的规范形式
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.EntityID, k.Day)
}

// DayWindow 本地自然日窗口 [Start, End)
type DayWindow struct {
	Start time.Time
	End   time.Time
}

// Day 返回窗口对应的 YYYY-MM-DD
func (w DayWindow) Day() string {
	return w.Start.Format(DayFormat)
}

// Contains 判断时间点是否落在窗口内
func (w DayWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// NewDayWindow 由参考日期构造 [本地0点, 次日0点) 窗口
func NewDayWindow(ref time.Time, loc *time.Location) DayWindow {
	local := ref.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return DayWindow{Start: start, End: start.Add(24 * time.Hour)}
}

// DayParseError day 参数不是合法的 YYYY-MM-DD
type DayParseError struct {
	Day string
	Err error
}

func (e *DayParseError) Error() string { return fmt.Sprintf("invalid day %q: %v", e.Day, e.Err) }
func (e *DayParseError) Unwrap() error { return e.Err }

// ParseDay 解析 YYYY-MM-DD 为当日窗口；day 为空时取当前时间
func ParseDay(day string, loc *time.Location) (DayWindow, error) {
	if day == "" {
		return NewDayWindow(time.Now(), loc), nil
	}
	t, err := time.ParseInLocation(DayFormat, day, loc)
	if err != nil {
		return DayWindow{}, &DayParseError{Day: day, Err: err}
	}
	return NewDayWindow(t, loc), nil
}
