package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wisefido-crowd/internal/domain"
	mqttcommon "wisefido-crowd/internal/mqtt"
	"wisefido-crowd/internal/service"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口（mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// ScanMessage 边缘传感器上报格式（topic: crowd/{sensor_id}/scan）
type ScanMessage struct {
	SensorID    string   `json:"sensor_id,omitempty"` // 可选：与 topic 不一致时以 topic 为准
	Identifiers []string `json:"identifiers"`
	Tokenized   bool     `json:"tokenized"`
	RSSI        []int    `json:"rssi,omitempty"`
	Timestamp   int64    `json:"ts,omitempty"` // unix 秒
}

// MQTTConsumer 订阅传感器扫描结果并写入人群统计
type MQTTConsumer struct {
	subscriber   Subscriber
	crowdService service.CrowdService
	topic        string
	qos          byte
	logger       *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(subscriber Subscriber, crowdService service.CrowdService, topic string, qos byte, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		subscriber:   subscriber,
		crowdService: crowdService,
		topic:        topic,
		qos:          qos,
		logger:       logger,
	}
}

// Start 订阅并阻塞到 ctx 结束
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if c.topic == "" {
		return fmt.Errorf("crowd MQTT topic not configured")
	}
	if err := c.subscriber.Subscribe(c.topic, c.qos, func(topic string, payload []byte) error {
		return c.handleMessage(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to crowd topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if c.topic != "" {
		if err := c.subscriber.Unsubscribe(c.topic); err != nil {
			c.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理一条扫描消息
func (c *MQTTConsumer) handleMessage(ctx context.Context, topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	sensorID, ok := SensorIDFromTopic(c.topic, topic)
	if !ok {
		return fmt.Errorf("%w: topic %s does not match %s", domain.ErrInvalidInput, topic, c.topic)
	}

	var msg ScanMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal scan message: %w", err)
	}
	if msg.SensorID != "" && msg.SensorID != sensorID {
		c.logger.Warn("Payload sensor_id differs from topic, using topic",
			zap.String("topic_sensor_id", sensorID),
			zap.String("payload_sensor_id", msg.SensorID),
		)
	}

	req := service.IngestRequest{
		SensorID:    sensorID,
		Identifiers: msg.Identifiers,
		Tokenized:   msg.Tokenized,
		RSSI:        msg.RSSI,
	}
	if msg.Timestamp > 0 {
		at := time.Unix(msg.Timestamp, 0).UTC()
		req.At = &at
	}

	resp, err := c.crowdService.Ingest(ctx, req)
	if err != nil {
		return fmt.Errorf("ingest from %s: %w", sensorID, err)
	}

	c.logger.Debug("Ingested scan",
		zap.String("sensor_id", sensorID),
		zap.Int("current_count", resp.CurrentCount),
		zap.String("severity", resp.Severity.String()),
	)
	return nil
}

// SensorIDFromTopic 从 topic 中取出 "+" 位置的 sensor_id（如 crowd/+/scan）
func SensorIDFromTopic(pattern, topic string) (string, bool) {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	if len(ps) != len(ts) {
		return "", false
	}
	id := ""
	for i, p := range ps {
		switch p {
		case "+":
			if id == "" {
				id = ts[i]
			}
		default:
			if p != ts[i] {
				return "", false
			}
		}
	}
	return id, id != ""
}
