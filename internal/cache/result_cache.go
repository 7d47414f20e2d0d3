package cache

import (
	"strings"
	"sync"

	"retrocare-status/internal/models"
)

// LookupState 缓存查询结果的状态
type LookupState int

const (
	// Absent 无该 key 的条目
	Absent LookupState = iota
	// Fresh 条目存在且未被标记失效
	Fresh
	// Stale 条目存在但已被变更事件标记失效；可带 staleness 标记乐观返回，
	// 是否阻塞重算由调用方决定，缓存不强制
	Stale
)

type cacheEntry struct {
	value *models.ReconciledStatusSet
	stale bool
}

// ResultCache 已计算聚合的 keyed 缓存，带显式失效标记
//
// 重算由外部触发，缓存只负责存取与标记。这是核心里唯一的共享可变状态，
// 所有操作经同一把锁串行（key 之间相互独立，单锁在当前扇入下足够）。
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewResultCache 创建结果缓存
func NewResultCache() *ResultCache {
	return &ResultCache{
		entries: make(map[string]*cacheEntry),
	}
}

// Get 查询缓存；Stale 条目照常返回值，由调用方决定是否乐观使用
func (c *ResultCache) Get(key models.CacheKey) (*models.ReconciledStatusSet, LookupState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.String()]
	if !ok {
		return nil, Absent
	}
	if entry.stale {
		return entry.value, Stale
	}
	return entry.value, Fresh
}

// Put 写入新计算的值并清除失效标记
func (c *ResultCache) Put(key models.CacheKey, value *models.ReconciledStatusSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key.String()] = &cacheEntry{value: value}
}

// Invalidate 标记条目失效；幂等——对已失效或不存在的 key 是无副作用的 no-op
func (c *ResultCache) Invalidate(key models.CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key.String()]; ok {
		entry.stale = true
	}
}

// InvalidateEntity 标记某实体的全部条目失效
// （scope 断连降级时使用：重订阅完成前该 scope 的缓存一律按未知新鲜度处理）
func (c *ResultCache) InvalidateEntity(kind models.AggregateKind, entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := string(kind) + ":" + entityID + ":"
	for key, entry := range c.entries {
		if strings.HasPrefix(key, prefix) {
			entry.stale = true
		}
	}
}

// Len 当前条目数（测试与指标用）
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
