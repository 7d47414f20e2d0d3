package models

import (
	"strings"
	"time"
)

// EntrySource 状态条目的来源
type EntrySource string

const (
	// SourceLog 来自 medication_logs 表（权威的逐条事件日志）
	SourceLog EntrySource = "log"
	// SourceEmbedded 来自 calls.medication_statuses JSONB（嵌入在通话记录里的状态数组）
	SourceEmbedded EntrySource = "embedded"
)

// StatusEntry 一条关于某个药品当日状态的断言
//
// 不变式（仅对 SourceLog 来源强制）：Taken == true 当且仅当 TakenAt != nil。
// SourceEmbedded 来源的条目可能缺少自身时间戳，此时 EffectiveAt 回退为
// 父通话记录的时间（completed_at，缺失时 started_at）。
type StatusEntry struct {
	ItemName    string      `json:"item_name"`
	Taken       bool        `json:"taken"`
	TakenAt     *time.Time  `json:"taken_at,omitempty"`
	EffectiveAt *time.Time  `json:"effective_at,omitempty"`
	SourceOrder int         `json:"source_order"`
	Source      EntrySource `json:"source"`
}

// EffectiveTime 返回用于优先级比较的生效时间（自身时间戳优先，否则父记录时间戳）
func (e StatusEntry) EffectiveTime() *time.Time {
	if e.TakenAt != nil {
		return e.TakenAt
	}
	return e.EffectiveAt
}

// NormalizeName 名称归一化（匹配用 key）：去空白 + 小写
// 展示名保留首次出现的原始大小写，由调用方负责
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
