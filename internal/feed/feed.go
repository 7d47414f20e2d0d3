// Package feed 消费持久层的行级变更通知（change feed），并按当前激活的
// scope（caregiver / patient）管理订阅生命周期。
package feed

import (
	"context"
	"sync"

	"retrocare-status/internal/models"
)

// Handler 每观察到一条变更事件调用一次，按底层 feed 的投递顺序串行调用
type Handler func(event models.ChangeEvent)

// TableFilter 一张被监听的表，可选按外键等值过滤
type TableFilter struct {
	Table    string
	FKColumn string // 为空表示不过滤
	FKValue  string
}

// Matches 判断事件是否命中该过滤器
func (f TableFilter) Matches(event models.ChangeEvent) bool {
	if event.Table != f.Table {
		return false
	}
	if f.FKColumn == "" {
		return true
	}
	v, ok := event.RowValue(f.FKColumn)
	return ok && v == f.FKValue
}

// SubscriptionSpec 一次订阅的完整描述
type SubscriptionSpec struct {
	ScopeKind models.ScopeKind
	ScopeID   string
	Tables    []TableFilter
	Handler   Handler
	// OnStale 连接断开时调用一次，恢复投递时再调用一次：降级窗口内
	// （含窗口期间写入的条目）该 scope 的缓存一律按未知新鲜度处理，
	// 因为窗口内发布的事件不会补投
	OnStale func()
}

// Subscription 一条活跃订阅的句柄
//
// 事件在订阅自己的 goroutine 上逐条投递（同一 scope 不会并发处理两条事件）。
// Close 是同步的：返回之后 Handler 不会再被调用；Handler 调用与 closed
// 标记共用同一把锁来保证这一点。
type Subscription struct {
	spec SubscriptionSpec

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// Active 句柄是否仍然有效（scope 关闭后在途计算的结果必须丢弃，写缓存前先查）
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close 关闭订阅；幂等
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
}

// deliver 在投递 goroutine 上调用；closed 之后静默丢弃
func (s *Subscription) deliver(event models.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, filter := range s.spec.Tables {
		if filter.Matches(event) {
			s.spec.Handler(event)
			return
		}
	}
}

func (s *Subscription) markStale() {
	s.mu.Lock()
	closed := s.closed
	onStale := s.spec.OnStale
	s.mu.Unlock()

	if !closed && onStale != nil {
		onStale()
	}
}

// ChangeFeed 行级变更 feed 的契约
// 要求底层至少一次、按订阅内顺序投递；不要求恰好一次
type ChangeFeed interface {
	// Subscribe 建立订阅；返回时连接已确认（Subscribing -> Active），
	// 之后到达的事件不会丢失
	Subscribe(ctx context.Context, spec SubscriptionSpec) (*Subscription, error)
	// Publish 发布一条变更事件（MQTT 桥与测试使用）
	Publish(ctx context.Context, event models.ChangeEvent) error
}

// ScopeFilters 每种 scope 监听的表
func ScopeFilters(kind models.ScopeKind, scopeID string) []TableFilter {
	switch kind {
	case models.PatientScope:
		return []TableFilter{
			{Table: "medication_logs", FKColumn: "patient_id", FKValue: scopeID},
			{Table: "calls", FKColumn: "patient_id", FKValue: scopeID},
			{Table: "daily_logs", FKColumn: "patient_id", FKValue: scopeID},
		}
	case models.CaregiverScope:
		return []TableFilter{
			{Table: "patients", FKColumn: "caregiver_id", FKValue: scopeID},
			{Table: "flags", FKColumn: "caregiver_id", FKValue: scopeID},
		}
	default:
		return nil
	}
}
