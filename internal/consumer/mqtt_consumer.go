package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqttcommon "github.com/KeyResolver-0924/Plateful-sub000/common/mqtt"
	rediscommon "github.com/KeyResolver-0924/Plateful-sub000/common/redis"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/config"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/metrics"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrRateLimited 餐次读数超出限流
var ErrRateLimited = errors.New("plate reading rate limited")

// Subscriber MQTT 订阅能力（*mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 把餐盘称重读数从 MQTT 转发到 Redis Streams
type MQTTConsumer struct {
	config      *config.Config
	mqttClient  Subscriber
	redisClient *redis.Client
	limiter     *MealLimiter
	logger      *zap.Logger
	metrics     *Metrics
	now         func() time.Time
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient Subscriber,
	redisClient *redis.Client,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		mqttClient:  mqttClient,
		redisClient: redisClient,
		limiter:     NewMealLimiter(cfg.Ingest.RatePerSecond, cfg.Ingest.Burst),
		logger:      logger,
		metrics:     NewMetrics(),
		now:         time.Now,
	}
}

// Metrics 返回消费者指标
func (c *MQTTConsumer) Metrics() *Metrics {
	return c.metrics
}

// Start 订阅读数主题并阻塞到 ctx 结束
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.config.Ingest.Topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to plate reading topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.config.Ingest.Topic),
		zap.String("stream", c.config.Streams.Readings),
	)

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go reportMetrics(metricsCtx, c.logger, c.metrics, 60*time.Second)

	// 定期回收空闲餐次的限流器
	idle := c.config.Ingest.LimiterIdle
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.limiter.Cleanup(idle); n > 0 {
				c.logger.Debug("Released idle meal limiters", zap.Int("count", n))
			}
		}
	}
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.config.Ingest.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理MQTT消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.metrics.IncrementProcessed()
	start := c.now()

	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	mealID, err := MealIDFromTopic(topic)
	if err != nil {
		c.reject(topic, err)
		return err
	}

	event, err := ParsePlatePayload(mealID, payload, start)
	if err != nil {
		c.reject(topic, err)
		return err
	}

	if !c.limiter.Allow(mealID) {
		c.metrics.IncrementSkipped()
		metrics.RecordIngest("rate_limited")
		c.logger.Warn("Plate reading dropped by rate limit",
			zap.String("meal_id", mealID),
			zap.String("plate_section", event.Reading.PlateSection),
		)
		return ErrRateLimited
	}

	streamID, err := rediscommon.PublishJSONToStream(context.Background(), c.redisClient, c.config.Streams.Readings, event)
	if err != nil {
		c.metrics.IncrementFailed("publish")
		metrics.RecordIngest("publish_failed")
		c.logger.Error("Failed to publish to Redis Streams",
			zap.String("stream", c.config.Streams.Readings),
			zap.String("meal_id", mealID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish to stream: %w", err)
	}

	c.metrics.IncrementSucceeded(c.now().Sub(start))
	metrics.RecordIngest("accepted")
	c.logger.Debug("Published plate reading to Redis Streams",
		zap.String("meal_id", mealID),
		zap.String("reading_id", event.Reading.ReadingID),
		zap.String("stream_id", streamID),
	)
	return nil
}

func (c *MQTTConsumer) reject(topic string, err error) {
	c.metrics.IncrementFailed("parse")
	metrics.RecordIngest("rejected")
	c.logger.Warn("Rejected plate reading",
		zap.String("topic", topic),
		zap.Error(err),
	)
}
