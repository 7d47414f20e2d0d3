package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"retrocare-status/internal/models"

	"go.uber.org/zap"
)

// ViewPublisher 把计算好的融合视图镜像到 Redis（带 TTL）
// 仪表盘进程直接读视图 key，不必触碰 PostgreSQL
type ViewPublisher struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewViewPublisher 创建视图发布器
func NewViewPublisher(kv KVStore, ttl time.Duration, logger *zap.Logger) *ViewPublisher {
	return &ViewPublisher{kv: kv, ttl: ttl, logger: logger}
}

// ViewKey 视图在 Redis 中的 key
func ViewKey(key models.CacheKey) string {
	return fmt.Sprintf("care-status:%s", key.String())
}

// Publish 写入视图缓存
// 发布失败只记日志，绝不让读路径失败（视图是冗余的加速层）
func (p *ViewPublisher) Publish(ctx context.Context, key models.CacheKey, set *models.ReconciledStatusSet) {
	jsonData, err := json.Marshal(set)
	if err != nil {
		p.logger.Error("Failed to marshal status view",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		return
	}

	if err := p.kv.Set(ctx, ViewKey(key), string(jsonData), p.ttl); err != nil {
		p.logger.Warn("Failed to publish status view",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("Published status view",
		zap.String("key", ViewKey(key)),
	)
}
