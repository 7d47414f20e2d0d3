package repository

import (
	"encoding/json"
	"strings"
	"time"

	"retrocare-status/internal/models"
)

// voice 流水线写入的内嵌状态数组没有统一 schema：不同版本的 prompt 产出的
// 字段拼写不同。这里做显式的 tagged decode，把所有可接受的形状在边界处
// 归一化为 StatusEntry，未知形状直接拒绝，绝不进入融合折叠。
//
// 接受的拼写：
//   名称:   name | medication | med_name
//   状态:   taken (bool) | status ("taken"/"missed"/bool)
//   时间戳: taken_at | time | timestamp （RFC3339 字符串或 Unix 秒）

// decodeEmbeddedStatuses 解析一条通话记录的 medication_statuses JSONB
// parentAt 为父记录时间戳（条目自身缺时间戳时的回退值）
// startOrder 为全局递增的 SourceOrder 起点
// 返回解析成功的条目与被跳过的条目数
func decodeEmbeddedStatuses(raw []byte, parentAt time.Time, startOrder int) ([]models.StatusEntry, int) {
	if len(raw) == 0 {
		return nil, 0
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		// 整个数组无法解析：按一条 malformed 计
		return nil, 1
	}

	var entries []models.StatusEntry
	skipped := 0
	for _, item := range items {
		name, ok := decodeName(item)
		if !ok {
			skipped++
			continue
		}

		taken, ok := decodeState(item)
		if !ok {
			skipped++
			continue
		}

		entry := models.StatusEntry{
			ItemName:    name,
			Taken:       taken,
			SourceOrder: startOrder + len(entries),
			Source:      models.SourceEmbedded,
		}

		if ts, ok := decodeTimestamp(item); ok {
			entry.TakenAt = &ts
		}
		fallback := parentAt
		entry.EffectiveAt = &fallback

		entries = append(entries, entry)
	}

	return entries, skipped
}

func decodeName(item map[string]any) (string, bool) {
	for _, field := range []string{"name", "medication", "med_name"} {
		if v, ok := item[field]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	return "", false
}

func decodeState(item map[string]any) (bool, bool) {
	if v, ok := item["taken"]; ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	if v, ok := item["status"]; ok {
		switch s := v.(type) {
		case bool:
			return s, true
		case string:
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "taken", "true", "yes":
				return true, true
			case "missed", "skipped", "false", "no":
				return false, true
			}
		}
	}
	return false, false
}

func decodeTimestamp(item map[string]any) (time.Time, bool) {
	for _, field := range []string{"taken_at", "time", "timestamp"} {
		v, ok := item[field]
		if !ok {
			continue
		}
		switch ts := v.(type) {
		case string:
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				return t, true
			}
		case float64:
			// JSON 数字统一解码为 float64，按 Unix 秒处理
			if ts > 0 {
				return time.Unix(int64(ts), 0).UTC(), true
			}
		}
	}
	return time.Time{}, false
}
