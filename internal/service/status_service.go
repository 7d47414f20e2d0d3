// Package service 组装状态融合的读路径与 scope 驱动的失效路径
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"retrocare-status/internal/cache"
	"retrocare-status/internal/catalog"
	"retrocare-status/internal/feed"
	"retrocare-status/internal/invalidator"
	"retrocare-status/internal/metrics"
	"retrocare-status/internal/models"
	"retrocare-status/internal/reconciler"
	"retrocare-status/internal/repository"

	"go.uber.org/zap"
)

// EntrySource 两个状态数据源的读取契约（repository.EntryStore 实现）
type EntrySource interface {
	FetchLogEntries(ctx context.Context, patientID string, window models.DayWindow) ([]models.StatusEntry, error)
	FetchEmbeddedEntries(ctx context.Context, patientID string, window models.DayWindow) ([]models.StatusEntry, error)
}

// ViewSink 计算结果的外部视图出口（cache.ViewPublisher 实现）
type ViewSink interface {
	Publish(ctx context.Context, key models.CacheKey, set *models.ReconciledStatusSet)
}

// StatusService 状态融合服务
//
// 读路径：cache -> catalog + 双数据源 -> reconcile -> cache + 视图发布。
// 失效路径：scope 订阅 -> dispatcher -> cache 标记 stale。
// 兜底刷新与 feed 失效相互独立，哪条路径先触发都会让下一次读拿到新值。
type StatusService struct {
	store      EntrySource
	catalog    catalog.Source
	engine     *reconciler.Engine
	cache      *cache.ResultCache
	views      ViewSink
	mux        *feed.Multiplexer
	dispatcher *invalidator.Dispatcher
	metrics    metrics.Collector
	logger     *zap.Logger

	loc             *time.Location
	refreshInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewStatusService 创建状态服务
func NewStatusService(
	store EntrySource,
	catalogSource catalog.Source,
	engine *reconciler.Engine,
	resultCache *cache.ResultCache,
	views ViewSink,
	mux *feed.Multiplexer,
	dispatcher *invalidator.Dispatcher,
	collector metrics.Collector,
	logger *zap.Logger,
	loc *time.Location,
	refreshInterval time.Duration,
) *StatusService {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &StatusService{
		store:           store,
		catalog:         catalogSource,
		engine:          engine,
		cache:           resultCache,
		views:           views,
		mux:             mux,
		dispatcher:      dispatcher,
		metrics:         collector,
		logger:          logger,
		loc:             loc,
		refreshInterval: refreshInterval,
		stopCh:          make(chan struct{}),
	}
}

// GetReconciledStatus 返回某患者某日的融合用药状态
//
// Fresh 缓存直接返回；Stale/Absent 触发重算。重算完全失败时，已有的
// stale 值作为降级结果返回（带 Degraded 标记），没有可用旧值才报错。
func (s *StatusService) GetReconciledStatus(ctx context.Context, patientID, day string) (*models.ReconciledStatusSet, error) {
	window, err := models.ParseDay(day, s.loc)
	if err != nil {
		return nil, err
	}

	key := models.CacheKey{Kind: models.AggregateStatus, EntityID: patientID, Day: window.Day()}

	cached, state := s.cache.Get(key)
	switch state {
	case cache.Fresh:
		s.metrics.RecordCacheHit()
		return cached, nil
	case cache.Stale:
		s.metrics.RecordCacheStale()
	default:
		s.metrics.RecordCacheMiss()
	}

	set, err := s.recompute(ctx, patientID, window, key)
	if err != nil {
		if cached != nil {
			// 旧值仍可乐观返回，但必须带降级标记
			s.logger.Warn("Recompute failed, serving stale entry",
				zap.String("patient_id", patientID),
				zap.String("day", window.Day()),
				zap.Error(err),
			)
			fallback := *cached
			fallback.Degraded = true
			return &fallback, nil
		}
		return nil, err
	}

	return set, nil
}

// recompute 拉取 catalog 与两个数据源并执行融合
//
// catalog 不可达是致命错误：没有预期清单就没有有意义的输出。
// 单个数据源失败只降级：用可用的一侧继续，结果标记 Degraded。
func (s *StatusService) recompute(ctx context.Context, patientID string, window models.DayWindow, key models.CacheKey) (*models.ReconciledStatusSet, error) {
	// 计算开始前抓取 scope 句柄：scope 在途关闭时丢弃计算结果
	handle := s.mux.Handle(models.PatientScope)

	names, err := s.catalog.ExpectedMedications(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load medication catalog: %w", err)
	}

	degraded := false

	logEntries, logErr := s.store.FetchLogEntries(ctx, patientID, window)
	if logErr != nil {
		if !errors.Is(logErr, repository.ErrSourceUnavailable) {
			return nil, logErr
		}
		degraded = true
		s.logger.Warn("Log source unavailable, reconciling without it",
			zap.String("patient_id", patientID),
			zap.Error(logErr),
		)
	}

	embedded, embErr := s.store.FetchEmbeddedEntries(ctx, patientID, window)
	if embErr != nil {
		if !errors.Is(embErr, repository.ErrSourceUnavailable) {
			return nil, embErr
		}
		degraded = true
		s.logger.Warn("Embedded source unavailable, reconciling without it",
			zap.String("patient_id", patientID),
			zap.Error(embErr),
		)
	}

	if logErr != nil && embErr != nil {
		return nil, fmt.Errorf("both entry sources unavailable: %w", logErr)
	}

	start := time.Now()
	statuses := s.engine.Reconcile(names, logEntries, embedded)
	s.metrics.RecordReconcile(time.Since(start))

	set := &models.ReconciledStatusSet{
		PatientID:  patientID,
		Day:        window.Day(),
		Statuses:   statuses,
		Degraded:   degraded,
		ComputedAt: time.Now(),
	}

	// scope 在计算期间被关闭：结果作废，不写缓存不发视图
	if handle != nil && !handle.Active() {
		s.logger.Debug("Discarding in-flight result, owning scope closed",
			zap.String("patient_id", patientID),
			zap.String("day", window.Day()),
		)
		return set, nil
	}

	s.cache.Put(key, set)
	s.views.Publish(ctx, key, set)

	return set, nil
}

// SetActiveScope 更新当前激活的 scope（id 为 nil 表示清除）
// 订阅到的变更事件经 dispatcher 精确失效缓存；连接降级时该实体的
// 全部条目按未知新鲜度处理
func (s *StatusService) SetActiveScope(ctx context.Context, kind models.ScopeKind, id *string) error {
	var handler feed.Handler
	var onStale func()

	if id != nil {
		scopeID := *id
		handler = func(event models.ChangeEvent) {
			s.dispatcher.OnEvent(event)
		}
		onStale = func() {
			s.cache.InvalidateEntity(models.AggregateStatus, scopeID)
			s.cache.InvalidateEntity(models.AggregateDaily, scopeID)
			s.logger.Warn("Scope degraded, cache entries marked stale",
				zap.String("scope_kind", string(kind)),
				zap.String("scope_id", scopeID),
			)
		}
	}

	_, err := s.mux.SetActiveScope(ctx, kind, id, handler, onStale)
	if err != nil {
		return fmt.Errorf("failed to update active scope: %w", err)
	}
	return nil
}

// ActiveScope 返回某 kind 当前激活的 id
func (s *StatusService) ActiveScope(kind models.ScopeKind) (string, bool) {
	return s.mux.ActiveScope(kind)
}

// Start 启动周期性兜底刷新
// 与 feed 失效互为冗余：feed 丢事件时轮询兜底，轮询间隔内 feed 保实时
func (s *StatusService) Start() {
	if s.refreshInterval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.refreshActivePatient()
			}
		}
	}()

	s.logger.Info("Periodic refresh started",
		zap.Duration("interval", s.refreshInterval),
	)
}

// refreshActivePatient 重算当前激活患者的当日状态
func (s *StatusService) refreshActivePatient() {
	patientID, ok := s.mux.ActiveScope(models.PatientScope)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	window := models.NewDayWindow(time.Now(), s.loc)
	key := models.CacheKey{Kind: models.AggregateStatus, EntityID: patientID, Day: window.Day()}

	if _, err := s.recompute(ctx, patientID, window, key); err != nil {
		s.logger.Warn("Periodic refresh failed",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}
}

// Stop 停止刷新并关闭全部订阅
func (s *StatusService) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.mux.Close()
	s.logger.Info("Status service stopped")
}
