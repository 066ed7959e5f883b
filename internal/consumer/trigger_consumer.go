package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "github.com/KeyResolver-0924/Plateful-sub000/common/redis"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/analytics"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/config"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/metrics"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// TriggerHandler 处理一条分析触发记录
type TriggerHandler interface {
	Handle(ctx context.Context, trigger *models.AnalyticsTrigger, enqueuedAt time.Time) (*analytics.Outcome, error)
}

// TriggerConsumer 分析触发流消费者（至少一次）
type TriggerConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	handler     TriggerHandler
	logger      *zap.Logger
	metrics     *Metrics
}

// NewTriggerConsumer 创建触发消费者
func NewTriggerConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	handler TriggerHandler,
	logger *zap.Logger,
) *TriggerConsumer {
	return &TriggerConsumer{
		config:      cfg,
		redisClient: redisClient,
		handler:     handler,
		logger:      logger,
		metrics:     NewMetrics(),
	}
}

// Metrics 返回消费者指标
func (c *TriggerConsumer) Metrics() *Metrics {
	return c.metrics
}

// Start 启动触发消费者
func (c *TriggerConsumer) Start(ctx context.Context) error {
	stream := c.config.Streams.Triggers
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, stream, c.config.Analytics.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Trigger consumer started",
		zap.String("stream", stream),
		zap.String("consumer_group", c.config.Analytics.ConsumerGroup),
		zap.String("consumer_name", c.config.Analytics.ConsumerName),
	)

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go reportMetrics(metricsCtx, c.logger, c.metrics, 60*time.Second)

	// 消费事件（带指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeTriggers(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to consume triggers",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

func (c *TriggerConsumer) consumeTriggers(ctx context.Context) error {
	a := c.config.Analytics

	// 重投其它消费者遗留的待确认消息
	claimed, err := rediscommon.ClaimIdle(ctx, c.redisClient, c.config.Streams.Triggers,
		a.ConsumerGroup, a.ConsumerName, c.config.Processor.ClaimMinIdle, a.BatchSize)
	if err != nil {
		return err
	}
	for _, msg := range claimed {
		c.HandleMessage(ctx, msg.StreamMessage, msg.Deliveries)
	}

	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.config.Streams.Triggers,
		a.ConsumerGroup, a.ConsumerName, a.BatchSize, a.Block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}
	for _, msg := range messages {
		c.HandleMessage(ctx, msg, 1)
	}
	return nil
}

// HandleMessage 处理单条触发消息，返回是否已确认
func (c *TriggerConsumer) HandleMessage(ctx context.Context, msg rediscommon.StreamMessage, deliveries int64) bool {
	c.metrics.IncrementProcessed()
	start := time.Now()

	trigger, err := ParseTriggerMessage(msg)
	if err != nil {
		// 无法解析的消息重投也不会成功
		c.metrics.IncrementDead("parse")
		metrics.RecordTrigger("invalid")
		c.logger.Error("Dropping unparseable trigger",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		c.ack(ctx, msg.ID)
		return true
	}

	if limit := c.config.Processor.MaxDeliveries; limit > 0 && deliveries > limit {
		c.metrics.IncrementDead("pipeline")
		metrics.RecordTrigger("max_deliveries")
		c.logger.Error("Dropping trigger after max deliveries",
			zap.String("message_id", msg.ID),
			zap.String("trigger_id", trigger.TriggerID),
			zap.Int64("deliveries", deliveries),
		)
		c.ack(ctx, msg.ID)
		return true
	}

	enqueuedAt, err := rediscommon.StreamIDTime(msg.ID)
	if err != nil {
		c.logger.Warn("Unknown enqueue time, trigger will be recomputed",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}

	out, err := c.handler.Handle(ctx, trigger, enqueuedAt)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidTrigger) {
			c.metrics.IncrementDead("parse")
			metrics.RecordTrigger("invalid")
			c.logger.Error("Dropping invalid trigger",
				zap.String("message_id", msg.ID),
				zap.String("trigger_id", trigger.TriggerID),
				zap.Error(err),
			)
			c.ack(ctx, msg.ID)
			return true
		}
		c.metrics.IncrementFailed("pipeline")
		metrics.RecordTrigger("retry")
		c.logger.Error("Failed to process trigger",
			zap.String("message_id", msg.ID),
			zap.String("trigger_id", trigger.TriggerID),
			zap.Error(err),
		)
		return false
	}

	if out.Skipped {
		c.metrics.IncrementSkipped()
		metrics.RecordTrigger("skipped")
	} else {
		c.metrics.IncrementSucceeded(time.Since(start))
		metrics.RecordTrigger("recomputed")
	}
	c.ack(ctx, msg.ID)
	return true
}

// ParseTriggerMessage 解析流消息中的触发记录
func ParseTriggerMessage(msg rediscommon.StreamMessage) (*models.AnalyticsTrigger, error) {
	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data field in message")
	}
	var trigger models.AnalyticsTrigger
	if err := json.Unmarshal([]byte(dataStr), &trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}
	return &trigger, nil
}

func (c *TriggerConsumer) ack(ctx context.Context, messageID string) {
	if err := rediscommon.Ack(ctx, c.redisClient, c.config.Streams.Triggers, c.config.Analytics.ConsumerGroup, messageID); err != nil {
		c.logger.Warn("Failed to ack message",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}
