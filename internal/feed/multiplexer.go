package feed

import (
	"context"
	"sync"

	"retrocare-status/internal/models"

	"go.uber.org/zap"
)

// Multiplexer 按当前激活实体管理 change feed 订阅
//
// 每种 scope kind 至多一条活跃订阅（即至多一个 (kind, id) 连接）。
// 状态机：Unsubscribed -> Subscribing -> Active -> Unsubscribed，
// id 变化时循环重来。换 id 时旧连接必须先拆干净，新连接才能建立，
// 避免同一 kind 的事件重复投递。
type Multiplexer struct {
	feed   ChangeFeed
	logger *zap.Logger

	mu     sync.Mutex
	active map[models.ScopeKind]*activeScope
}

type activeScope struct {
	id  string
	sub *Subscription
}

// NewMultiplexer 创建订阅多路复用器
func NewMultiplexer(feed ChangeFeed, logger *zap.Logger) *Multiplexer {
	return &Multiplexer{
		feed:   feed,
		logger: logger,
		active: make(map[models.ScopeKind]*activeScope),
	}
}

// SetActiveScope 更新某 scope kind 的当前 id（表现层在选中实体变化时调用）
//
// id 与当前相同：no-op，返回现有句柄。
// id 变化或为 nil：同步关闭旧订阅（关闭返回后旧 handler 不会再被调用），
// 然后（id 非 nil 时）建立新订阅。
func (m *Multiplexer) SetActiveScope(ctx context.Context, kind models.ScopeKind, id *string, handler Handler, onStale func()) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.active[kind]
	if current != nil && id != nil && current.id == *id {
		return current.sub, nil
	}

	// 先拆旧连接
	if current != nil {
		current.sub.Close()
		delete(m.active, kind)
		m.logger.Info("Scope subscription closed",
			zap.String("scope_kind", string(kind)),
			zap.String("scope_id", current.id),
		)
	}

	if id == nil {
		return nil, nil
	}

	sub, err := m.feed.Subscribe(ctx, SubscriptionSpec{
		ScopeKind: kind,
		ScopeID:   *id,
		Tables:    ScopeFilters(kind, *id),
		Handler:   handler,
		OnStale:   onStale,
	})
	if err != nil {
		return nil, err
	}

	m.active[kind] = &activeScope{id: *id, sub: sub}
	return sub, nil
}

// ActiveScope 返回某 kind 当前激活的 id
func (m *Multiplexer) ActiveScope(kind models.ScopeKind) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[kind]; ok {
		return current.id, true
	}
	return "", false
}

// Handle 返回某 kind 当前订阅的句柄（写缓存前校验有效性用）
func (m *Multiplexer) Handle(kind models.ScopeKind) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[kind]; ok {
		return current.sub
	}
	return nil
}

// Close 关闭全部订阅（进程退出时调用）
func (m *Multiplexer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for kind, current := range m.active {
		current.sub.Close()
		delete(m.active, kind)
	}
}
