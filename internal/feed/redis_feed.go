package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"retrocare-status/internal/metrics"
	"retrocare-status/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ChannelFor 表对应的 pub/sub 频道
func ChannelFor(table string) string {
	return "feed:" + table
}

// RedisFeed 基于 Redis Pub/Sub 的 change feed 实现
//
// 数据库侧由触发器/写入方把行级变更发布到 feed:<table> 频道；同一连接内
// Redis 按发布顺序投递，满足订阅内有序的要求。外键过滤在接收端做。
type RedisFeed struct {
	client     *redis.Client
	logger     *zap.Logger
	metrics    metrics.Collector
	maxBackoff time.Duration
}

// NewRedisFeed 创建 Redis change feed
func NewRedisFeed(client *redis.Client, logger *zap.Logger, collector metrics.Collector, maxBackoff time.Duration) *RedisFeed {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &RedisFeed{
		client:     client,
		logger:     logger,
		metrics:    collector,
		maxBackoff: maxBackoff,
	}
}

// Subscribe 建立订阅
// pubsub.Receive 确认订阅成功后才返回（Subscribing -> Active），
// 确认前不会启动投递 goroutine，之后的事件不会丢失
func (f *RedisFeed) Subscribe(ctx context.Context, spec SubscriptionSpec) (*Subscription, error) {
	channels := channelsFor(spec.Tables)
	if len(channels) == 0 {
		return nil, fmt.Errorf("subscription has no tables")
	}

	// 订阅生命周期独立于调用方的请求 ctx，由 Close 终止
	subCtx, cancel := context.WithCancel(context.Background())

	pubsub := f.client.Subscribe(subCtx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		cancel()
		return nil, fmt.Errorf("failed to confirm subscription: %w", err)
	}

	sub := &Subscription{
		spec:   spec,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go f.run(subCtx, pubsub, sub)

	f.logger.Info("Change feed subscription established",
		zap.String("scope_kind", string(spec.ScopeKind)),
		zap.String("scope_id", spec.ScopeID),
		zap.Strings("channels", channels),
	)

	return sub, nil
}

// run 投递循环：同一订阅的事件逐条、按接收顺序处理
// 连接断开时标记 scope 降级并带指数退避重试（go-redis 会自动重建订阅）
func (f *RedisFeed) run(ctx context.Context, pubsub *redis.PubSub, sub *Subscription) {
	defer close(sub.done)
	defer pubsub.Close()

	backoff := time.Second
	degraded := false

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			if !degraded {
				degraded = true
				sub.markStale()
			}

			f.metrics.RecordResubscribe(string(sub.spec.ScopeKind))
			f.logger.Warn("Change feed connection lost, retrying",
				zap.String("scope_kind", string(sub.spec.ScopeKind)),
				zap.String("scope_id", sub.spec.ScopeID),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > f.maxBackoff {
				backoff = f.maxBackoff
			}
			continue
		}

		if degraded {
			degraded = false
			backoff = time.Second
			// 断连期间发布的事件已被 pub/sub 丢弃，期间写入的缓存条目
			// 可能是新鲜假象。恢复时再扫一次，读路径重新计算
			sub.markStale()
			f.logger.Info("Change feed resubscribed",
				zap.String("scope_kind", string(sub.spec.ScopeKind)),
				zap.String("scope_id", sub.spec.ScopeID),
			)
		}

		var event models.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			f.logger.Warn("Failed to decode change event",
				zap.String("channel", msg.Channel),
				zap.Error(err),
			)
			continue
		}

		sub.deliver(event)
	}
}

// Publish 发布一条变更事件到对应频道
func (f *RedisFeed) Publish(ctx context.Context, event models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	if err := f.client.Publish(ctx, ChannelFor(event.Table), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	return nil
}

func channelsFor(tables []TableFilter) []string {
	seen := make(map[string]bool, len(tables))
	var channels []string
	for _, t := range tables {
		if t.Table == "" || seen[t.Table] {
			continue
		}
		seen[t.Table] = true
		channels = append(channels, ChannelFor(t.Table))
	}
	return channels
}
