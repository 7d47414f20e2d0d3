// Package invalidator 把行级变更事件路由成精确的缓存失效
package invalidator

import (
	"time"

	"retrocare-status/internal/cache"
	"retrocare-status/internal/metrics"
	"retrocare-status/internal/models"

	"go.uber.org/zap"
)

// routeFunc 由事件解析出受影响的缓存 key；解析失败返回 false
type routeFunc func(event models.ChangeEvent) (models.CacheKey, bool)

// Dispatcher 持有一张静态路由表 table -> routeFunc
//
// 失效粒度与计算粒度相同：每条事件解析到精确的 (kind, entity, day)，
// 绝不做粗粒度桶失效。未知表不报错，但必须可观测（计数 + 日志），
// 那是路由表的配置缺口而不是运行时故障。
type Dispatcher struct {
	cache   *cache.ResultCache
	metrics metrics.Collector
	logger  *zap.Logger
	loc     *time.Location
	routes  map[string]routeFunc
}

// NewDispatcher 创建失效分发器；loc 用于把事件时间换算成本地日期
func NewDispatcher(resultCache *cache.ResultCache, collector metrics.Collector, logger *zap.Logger, loc *time.Location) *Dispatcher {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}

	d := &Dispatcher{
		cache:   resultCache,
		metrics: collector,
		logger:  logger,
		loc:     loc,
	}

	// 用药状态聚合：日志表与嵌入数组的父记录都会影响同一个 key
	// 日报聚合：daily_logs 按 patient，patients/flags 行变更按行内 patient id
	d.routes = map[string]routeFunc{
		"medication_logs": d.statusRoute("patient_id", "taken_at", "created_at"),
		"calls":           d.statusRoute("patient_id", "completed_at", "started_at"),
		"daily_logs":      d.dailyRoute("patient_id", "day", "created_at"),
		"patients":        d.dailyRoute("id", "updated_at"),
		"flags":           d.dailyRoute("patient_id", "created_at"),
	}

	return d
}

// OnEvent 解析事件并在返回前把受影响的缓存条目标记为 stale
// 返回被失效的 key 集合（测试与日志用）
func (d *Dispatcher) OnEvent(event models.ChangeEvent) []models.CacheKey {
	route, ok := d.routes[event.Table]
	if !ok {
		d.metrics.RecordUnroutableEvent(event.Table)
		d.logger.Warn("Change event for table with no invalidation route",
			zap.String("table", event.Table),
			zap.String("event_id", event.EventID),
		)
		return nil
	}

	key, ok := route(event)
	if !ok {
		return nil
	}

	d.cache.Invalidate(key)
	d.metrics.RecordInvalidation(event.Table)
	d.logger.Debug("Cache entry invalidated",
		zap.String("table", event.Table),
		zap.String("cache_key", key.String()),
	)

	return []models.CacheKey{key}
}

func (d *Dispatcher) statusRoute(fkColumn string, dayColumns ...string) routeFunc {
	return d.route(models.AggregateStatus, fkColumn, dayColumns)
}

func (d *Dispatcher) dailyRoute(fkColumn string, dayColumns ...string) routeFunc {
	return d.route(models.AggregateDaily, fkColumn, dayColumns)
}

func (d *Dispatcher) route(kind models.AggregateKind, fkColumn string, dayColumns []string) routeFunc {
	return func(event models.ChangeEvent) (models.CacheKey, bool) {
		entityID, ok := event.RowValue(fkColumn)
		if !ok {
			d.logger.Warn("Change event missing routing foreign key",
				zap.String("table", event.Table),
				zap.String("column", fkColumn),
				zap.String("event_id", event.EventID),
			)
			return models.CacheKey{}, false
		}

		return models.CacheKey{
			Kind:     kind,
			EntityID: entityID,
			Day:      d.eventDay(event, dayColumns),
		}, true
	}
}

// eventDay 按列优先级取行内时间并换算为本地日期；删除事件取 OldRow，
// 都取不到时回退事件自身的发生时间
func (d *Dispatcher) eventDay(event models.ChangeEvent, dayColumns []string) string {
	loc := d.loc
	for _, column := range dayColumns {
		raw, ok := event.RowValue(column)
		if !ok {
			continue
		}
		if len(raw) == len(models.DayFormat) {
			if day, err := time.ParseInLocation(models.DayFormat, raw, loc); err == nil {
				return day.Format(models.DayFormat)
			}
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts.In(loc).Format(models.DayFormat)
		}
	}
	return event.OccurredAt.In(loc).Format(models.DayFormat)
}
