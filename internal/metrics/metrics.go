// Package metrics 提供 Prometheus 指标的收集与暴露
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 指标收集接口（service / dispatcher / repository 使用）
type Collector interface {
	RecordReconcile(duration time.Duration)
	RecordCacheHit()
	RecordCacheStale()
	RecordCacheMiss()
	RecordInvalidation(table string)
	RecordUnroutableEvent(table string)
	RecordMalformedEntry()
	RecordFuzzyMatch()
	RecordResubscribe(scopeKind string)
}

// PromCollector Prometheus 实现
type PromCollector struct {
	reconcileTotal    prometheus.Counter
	reconcileDuration prometheus.Histogram
	cacheHits         prometheus.Counter
	cacheStale        prometheus.Counter
	cacheMisses       prometheus.Counter
	invalidations     *prometheus.CounterVec
	unroutableEvents  *prometheus.CounterVec
	malformedEntries  prometheus.Counter
	fuzzyMatches      prometheus.Counter
	resubscribes      *prometheus.CounterVec
}

// NewPromCollector 创建收集器并注册到指定 registry
func NewPromCollector(reg prometheus.Registerer) *PromCollector {
	c := &PromCollector{
		reconcileTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retrocare_status_reconcile_total",
			Help: "Total number of reconciliation computations",
		}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "retrocare_status_reconcile_duration_seconds",
			Help:    "Latency of reconciliation computations",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retrocare_status_cache_hits_total",
			Help: "Result cache reads served fresh",
		}),
		cacheStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retrocare_status_cache_stale_total",
			Help: "Result cache reads that found a stale entry",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retrocare_status_cache_misses_total",
			Help: "Result cache reads with no entry",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retrocare_status_invalidations_total",
			Help: "Cache invalidations routed from change events, by table",
		}, []string{"table"}),
		unroutableEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retrocare_status_unroutable_events_total",
			Help: "Change events with no routing table entry, by table",
		}, []string{"table"}),
		malformedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retrocare_status_malformed_entries_total",
			Help: "Embedded medication entries skipped at the decode boundary",
		}),
		fuzzyMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retrocare_status_fuzzy_matches_total",
			Help: "Catalog names resolved via substring match instead of exact match",
		}),
		resubscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retrocare_status_resubscribes_total",
			Help: "Change feed resubscription attempts, by scope kind",
		}, []string{"scope_kind"}),
	}

	reg.MustRegister(
		c.reconcileTotal,
		c.reconcileDuration,
		c.cacheHits,
		c.cacheStale,
		c.cacheMisses,
		c.invalidations,
		c.unroutableEvents,
		c.malformedEntries,
		c.fuzzyMatches,
		c.resubscribes,
	)

	return c
}

func (c *PromCollector) RecordReconcile(duration time.Duration) {
	c.reconcileTotal.Inc()
	c.reconcileDuration.Observe(duration.Seconds())
}

func (c *PromCollector) RecordCacheHit()   { c.cacheHits.Inc() }
func (c *PromCollector) RecordCacheStale() { c.cacheStale.Inc() }
func (c *PromCollector) RecordCacheMiss()  { c.cacheMisses.Inc() }

func (c *PromCollector) RecordInvalidation(table string) {
	c.invalidations.WithLabelValues(table).Inc()
}

func (c *PromCollector) RecordUnroutableEvent(table string) {
	c.unroutableEvents.WithLabelValues(table).Inc()
}

func (c *PromCollector) RecordMalformedEntry() { c.malformedEntries.Inc() }
func (c *PromCollector) RecordFuzzyMatch()     { c.fuzzyMatches.Inc() }

func (c *PromCollector) RecordResubscribe(scopeKind string) {
	c.resubscribes.WithLabelValues(scopeKind).Inc()
}

// Handler 返回 /metrics 的 HTTP handler
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Nop 空实现（单元测试用）
type Nop struct{}

func (Nop) RecordReconcile(time.Duration)  {}
func (Nop) RecordCacheHit()                {}
func (Nop) RecordCacheStale()              {}
func (Nop) RecordCacheMiss()               {}
func (Nop) RecordInvalidation(string)      {}
func (Nop) RecordUnroutableEvent(string)   {}
func (Nop) RecordMalformedEntry()          {}
func (Nop) RecordFuzzyMatch()              {}
func (Nop) RecordResubscribe(string)       {}
