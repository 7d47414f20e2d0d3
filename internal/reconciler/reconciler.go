// Package reconciler 将两个独立写入、可能互相矛盾的数据源
// （medication_logs 逐条日志 + calls 内嵌状态数组）融合为每个药品当日的唯一状态。
package reconciler

import (
	"sort"
	"strings"
	"time"

	"retrocare-status/internal/metrics"
	"retrocare-status/internal/models"

	"go.uber.org/zap"
)

// Engine 状态融合引擎
//
// Reconcile 是纯计算：同一输入集合的输出是确定且幂等的，不做任何 I/O。
type Engine struct {
	logger  *zap.Logger
	metrics metrics.Collector
}

// NewEngine 创建融合引擎
func NewEngine(logger *zap.Logger, collector metrics.Collector) *Engine {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Engine{logger: logger, metrics: collector}
}

// Reconcile 融合两个来源的状态条目，对 catalog 中的每个名称（按原顺序）恰好输出一行
//
// 优先级规则：
//  1. 日志条目按归一化名称分组，保留 taken_at 最新的一条；全部无 taken_at 时
//     保留最近断言的 false。
//  2. 内嵌条目按生效时间顺序逐条合入：
//     - 无现值：直接采纳
//     - 新 true / 现 false：新条目无条件胜出
//     - 同为 true：生效时间更晚者胜出
//     - 新 false / 现 true：仅当新条目生效时间严格更晚才胜出
//       （已确认的阳性断言不会被更旧或同时刻的阴性信号悄悄抹掉）
//     - 同为 false：更晚者胜出，平局保留现值
//  3. catalog 名称先精确匹配，失败后做子串模糊匹配（首个命中），再失败输出默认值。
//     模糊命中会消费该 key：同一个 key 只能挂到遍历顺序中的第一个 catalog 名称，
//     后续名称对它不再模糊命中（精确匹配不消费 key）。
func (e *Engine) Reconcile(catalog []string, logEntries, embeddedEntries []models.StatusEntry) []models.ReconciledStatus {
	byKey := e.seedFromLog(logEntries)
	e.foldEmbedded(byKey, embeddedEntries)
	return e.resolveCatalog(catalog, byKey)
}

// seedFromLog 用权威日志初始化每个 key 的现值
func (e *Engine) seedFromLog(logEntries []models.StatusEntry) map[string]models.StatusEntry {
	byKey := make(map[string]models.StatusEntry, len(logEntries))

	for _, entry := range logEntries {
		key := models.NormalizeName(entry.ItemName)
		if key == "" {
			continue
		}

		existing, ok := byKey[key]
		if !ok {
			byKey[key] = entry
			continue
		}

		if logEntryPreferred(entry, existing) {
			byKey[key] = entry
		}
	}

	return byKey
}

// logEntryPreferred 同一 key 的两条日志条目，candidate 是否优于 existing
// 规则：有 taken_at 的优于没有的；都有时较晚者优；都没有时按 SourceOrder 取最近断言
func logEntryPreferred(candidate, existing models.StatusEntry) bool {
	switch {
	case candidate.TakenAt != nil && existing.TakenAt == nil:
		return true
	case candidate.TakenAt == nil && existing.TakenAt != nil:
		return false
	case candidate.TakenAt != nil && existing.TakenAt != nil:
		if candidate.TakenAt.Equal(*existing.TakenAt) {
			return candidate.SourceOrder > existing.SourceOrder
		}
		return candidate.TakenAt.After(*existing.TakenAt)
	default:
		return candidate.SourceOrder > existing.SourceOrder
	}
}

// foldEmbedded 按生效时间顺序合入内嵌条目
func (e *Engine) foldEmbedded(byKey map[string]models.StatusEntry, embeddedEntries []models.StatusEntry) {
	// 入参顺序不可信（通话记录可能乱序到达），先按生效时间排稳
	sorted := make([]models.StatusEntry, len(embeddedEntries))
	copy(sorted, embeddedEntries)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].EffectiveTime(), sorted[j].EffectiveTime()
		switch {
		case ti == nil && tj == nil:
			return sorted[i].SourceOrder < sorted[j].SourceOrder
		case ti == nil:
			return true
		case tj == nil:
			return false
		case ti.Equal(*tj):
			return sorted[i].SourceOrder < sorted[j].SourceOrder
		default:
			return ti.Before(*tj)
		}
	})

	for _, entry := range sorted {
		key := models.NormalizeName(entry.ItemName)
		if key == "" {
			continue
		}

		existing, ok := byKey[key]
		if !ok {
			byKey[key] = entry
			continue
		}

		if embeddedWins(entry, existing) {
			byKey[key] = entry
		}
	}
}

// embeddedWins 内嵌条目 entry 是否覆盖现值 existing
func embeddedWins(entry, existing models.StatusEntry) bool {
	switch {
	case entry.Taken && !existing.Taken:
		// 阳性断言无条件胜过阴性现值
		return true
	case entry.Taken && existing.Taken:
		// 同为 true：较晚的生效时间胜出
		return strictlyAfter(entry.EffectiveTime(), existing.EffectiveTime())
	case !entry.Taken && existing.Taken:
		// 阴性覆盖阳性：仅当严格更晚
		return strictlyAfter(entry.EffectiveTime(), existing.EffectiveTime())
	default:
		// 同为 false：较晚者胜出，平局保留现值
		return strictlyAfter(entry.EffectiveTime(), existing.EffectiveTime())
	}
}

// strictlyAfter a 是否严格晚于 b（nil 视为最早）
func strictlyAfter(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

// resolveCatalog 按 catalog 顺序解析结果；展示名取 catalog 原文
//
// catalog 中的重复名称各自独立解析（不去重）——与现网行为保持一致，
// 是否为数据质量问题待产品澄清，见 DESIGN.md。
func (e *Engine) resolveCatalog(catalog []string, byKey map[string]models.StatusEntry) []models.ReconciledStatus {
	// 模糊匹配按排序后的 key 遍历，保证相同输入集合下命中结果确定
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// 一次解析内已被模糊挂走的 key：一个条目只能模糊挂到第一个 catalog 名称
	fuzzyClaimed := make(map[string]bool)

	results := make([]models.ReconciledStatus, 0, len(catalog))
	for _, name := range catalog {
		status := models.ReconciledStatus{MedicationName: name}

		entry, matched := e.matchEntry(name, byKey, keys, fuzzyClaimed)
		if matched && entry.Taken {
			status.Taken = true
			status.TakenAt = entry.EffectiveTime()
		}

		results = append(results, status)
	}

	return results
}

// matchEntry 精确匹配优先，其次子串模糊匹配（首个命中）
// 模糊命中的 key 记入 fuzzyClaimed，后续 catalog 名称不再模糊命中同一 key；
// 精确匹配不受影响（catalog 重名各自独立解析）
func (e *Engine) matchEntry(catalogName string, byKey map[string]models.StatusEntry, sortedKeys []string, fuzzyClaimed map[string]bool) (models.StatusEntry, bool) {
	norm := models.NormalizeName(catalogName)
	if norm == "" {
		return models.StatusEntry{}, false
	}

	if entry, ok := byKey[norm]; ok {
		return entry, true
	}

	for _, key := range sortedKeys {
		if fuzzyClaimed[key] {
			continue
		}
		if strings.Contains(key, norm) || strings.Contains(norm, key) {
			fuzzyClaimed[key] = true
			e.metrics.RecordFuzzyMatch()
			e.logger.Info("Catalog name resolved via fuzzy match",
				zap.String("catalog_name", catalogName),
				zap.String("entry_key", key),
			)
			return byKey[key], true
		}
	}

	return models.StatusEntry{}, false
}
