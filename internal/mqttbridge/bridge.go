// Package mqttbridge 把 voice 服务的通话完成通知桥接进 change feed
//
// voice 服务通过 MQTT 广播通话结果（payload 内嵌 medication_statuses 数组）。
// 桥接器把每条通知转成 calls 表的变更事件发布到 feed，让订阅中的 scope
// 走统一的失效路径，而不是为 MQTT 单独开一条失效通道。
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"retrocare-status/internal/config"
	"retrocare-status/internal/feed"
	"retrocare-status/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Bridge MQTT 到 change feed 的桥接器
type Bridge struct {
	cfg    config.MQTTConfig
	feed   feed.ChangeFeed
	logger *zap.Logger
	client mqtt.Client
}

// NewBridge 创建桥接器（Start 之前不建立连接）
func NewBridge(cfg config.MQTTConfig, changeFeed feed.ChangeFeed, logger *zap.Logger) *Bridge {
	return &Bridge{
		cfg:    cfg,
		feed:   changeFeed,
		logger: logger,
	}
}

// Start 连接 broker 并订阅通话通知主题
func (b *Bridge) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
	}
	if b.cfg.Password != "" {
		opts.SetPassword(b.cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	b.client = mqtt.NewClient(opts)

	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	token := b.client.Subscribe(b.cfg.Topic, b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := b.onMessage(msg.Topic(), msg.Payload()); err != nil {
			b.logger.Warn("Failed to bridge call notice",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", b.cfg.Topic, token.Error())
	}

	b.logger.Info("MQTT bridge started",
		zap.String("broker", b.cfg.Broker),
		zap.String("topic", b.cfg.Topic),
	)

	return nil
}

// onMessage 把一条通话通知转成 calls 表的变更事件
func (b *Bridge) onMessage(topic string, payload []byte) error {
	var row map[string]any
	if err := json.Unmarshal(payload, &row); err != nil {
		return fmt.Errorf("invalid call notice payload: %w", err)
	}

	patientID, ok := row["patient_id"].(string)
	if !ok || patientID == "" {
		return fmt.Errorf("call notice missing patient_id")
	}

	event := models.ChangeEvent{
		EventID:    uuid.New().String(),
		EventType:  models.EventUpdate,
		Table:      "calls",
		NewRow:     row,
		OccurredAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.feed.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to publish call event: %w", err)
	}

	b.logger.Debug("Call notice bridged",
		zap.String("topic", topic),
		zap.String("patient_id", patientID),
	)

	return nil
}

// Stop 断开 MQTT 连接
func (b *Bridge) Stop() {
	if b.client == nil {
		return
	}
	if token := b.client.Unsubscribe(b.cfg.Topic); token.Wait() && token.Error() != nil {
		b.logger.Warn("Failed to unsubscribe MQTT topic", zap.Error(token.Error()))
	}
	b.client.Disconnect(250)
	b.logger.Info("MQTT bridge stopped")
}
