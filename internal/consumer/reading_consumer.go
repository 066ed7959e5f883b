package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "github.com/KeyResolver-0924/Plateful-sub000/common/redis"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/config"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/metrics"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/pipeline"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ReadingProcessor 处理单条读数事件
type ReadingProcessor interface {
	Process(ctx context.Context, event models.ReadingEvent) (*pipeline.Result, error)
}

// Disposition 消息处理后的去向
type Disposition int

const (
	// DispositionAck 确认
	DispositionAck Disposition = iota
	// DispositionRetry 保留在待确认列表等待重投
	DispositionRetry
	// DispositionDeadLetter 写入死信流后确认
	DispositionDeadLetter
)

// Classify 根据处理错误决定消息去向；不可重试的错误直接进入死信流
func Classify(err error) (Disposition, string) {
	switch {
	case err == nil:
		return DispositionAck, ""
	case errors.Is(err, pipeline.ErrMealNotFound):
		return DispositionDeadLetter, "meal_not_found"
	case errors.Is(err, pipeline.ErrInvalidReading), errors.Is(err, ErrInvalidPayload):
		return DispositionDeadLetter, "parse"
	}
	return DispositionRetry, "pipeline"
}

// ReadingConsumer 从读数流消费并驱动流水线
type ReadingConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	processor   ReadingProcessor
	logger      *zap.Logger
	metrics     *Metrics
}

// NewReadingConsumer 创建读数消费者
func NewReadingConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	processor ReadingProcessor,
	logger *zap.Logger,
) *ReadingConsumer {
	return &ReadingConsumer{
		config:      cfg,
		redisClient: redisClient,
		processor:   processor,
		logger:      logger,
		metrics:     NewMetrics(),
	}
}

// Metrics 返回消费者指标
func (c *ReadingConsumer) Metrics() *Metrics {
	return c.metrics
}

// Start 启动消费者，阻塞到 ctx 结束
func (c *ReadingConsumer) Start(ctx context.Context) error {
	stream := c.config.Streams.Readings
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, stream, c.config.Processor.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	c.logger.Info("Reading consumer started",
		zap.String("consumer_group", c.config.Processor.ConsumerGroup),
		zap.String("consumer_name", c.config.Processor.ConsumerName),
		zap.String("stream", stream),
	)

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go reportMetrics(metricsCtx, c.logger, c.metrics, 60*time.Second)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeStream(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避
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

// consumeStream 先认领超时未确认的消息，再读取新消息
func (c *ReadingConsumer) consumeStream(ctx context.Context) error {
	p := c.config.Processor

	claimed, err := rediscommon.ClaimIdle(ctx, c.redisClient, c.config.Streams.Readings,
		p.ConsumerGroup, p.ConsumerName, p.ClaimMinIdle, p.BatchSize)
	if err != nil {
		return err
	}
	for _, msg := range claimed {
		c.HandleMessage(ctx, msg.StreamMessage, msg.Deliveries)
	}

	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.config.Streams.Readings,
		p.ConsumerGroup, p.ConsumerName, p.BatchSize, p.Block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}
	for _, msg := range messages {
		c.HandleMessage(ctx, msg, 1)
	}
	return nil
}

// HandleMessage 处理单条消息并确认 / 保留 / 转死信，返回最终去向
func (c *ReadingConsumer) HandleMessage(ctx context.Context, msg rediscommon.StreamMessage, deliveries int64) Disposition {
	c.metrics.IncrementProcessed()
	start := time.Now()

	if limit := c.config.Processor.MaxDeliveries; limit > 0 && deliveries > limit {
		c.deadLetter(ctx, msg, "max_deliveries", fmt.Errorf("delivered %d times", deliveries), deliveries)
		return DispositionDeadLetter
	}

	event, err := ParseReadingMessage(msg)
	if err == nil {
		var res *pipeline.Result
		res, err = c.processor.Process(ctx, event)
		if err == nil {
			c.recordSuccess(res, time.Since(start))
		}
	}

	disposition, reason := Classify(err)
	switch disposition {
	case DispositionAck:
		c.ack(ctx, msg.ID)
	case DispositionDeadLetter:
		c.deadLetter(ctx, msg, reason, err, deliveries)
	case DispositionRetry:
		c.metrics.IncrementFailed(reason)
		metrics.RecordReading("retry", time.Since(start))
		c.logger.Error("Failed to process message, left pending",
			zap.String("stream_id", msg.ID),
			zap.Int64("deliveries", deliveries),
			zap.Error(err),
		)
	}
	return disposition
}

func (c *ReadingConsumer) recordSuccess(res *pipeline.Result, d time.Duration) {
	if res.Duplicate {
		c.metrics.IncrementSkipped()
		metrics.RecordReading("duplicate", d)
		return
	}
	c.metrics.IncrementSucceeded(d)
	metrics.RecordReading("ok", d)
	if res.Evaluation.Completed {
		metrics.RecordMealCompleted()
	}
}

// ParseReadingMessage 解析流消息中的读数事件（data 字段）
func ParseReadingMessage(msg rediscommon.StreamMessage) (models.ReadingEvent, error) {
	var event models.ReadingEvent
	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		return event, fmt.Errorf("%w: missing data field in message", ErrInvalidPayload)
	}
	if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
		return event, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return event, nil
}

func (c *ReadingConsumer) ack(ctx context.Context, id string) {
	if err := rediscommon.Ack(ctx, c.redisClient, c.config.Streams.Readings, c.config.Processor.ConsumerGroup, id); err != nil {
		c.logger.Warn("Failed to ack message",
			zap.String("stream_id", id),
			zap.Error(err),
		)
	}
}

// deadLetter 写入死信流后确认原消息；写入失败时保留原消息
func (c *ReadingConsumer) deadLetter(ctx context.Context, msg rediscommon.StreamMessage, reason string, cause error, deliveries int64) {
	values := map[string]interface{}{
		"source_stream": c.config.Streams.Readings,
		"source_id":     msg.ID,
		"reason":        reason,
		"deliveries":    deliveries,
	}
	if data, ok := msg.Values["data"]; ok {
		values["data"] = data
	}
	if cause != nil {
		values["error"] = cause.Error()
	}

	if _, err := rediscommon.PublishToStream(ctx, c.redisClient, c.config.Streams.DeadLetter, values); err != nil {
		c.metrics.IncrementFailed("publish")
		c.logger.Error("Failed to dead-letter message",
			zap.String("stream_id", msg.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}

	c.metrics.IncrementDead(reason)
	metrics.RecordDeadLetter(c.config.Streams.Readings, reason)
	c.logger.Warn("Message moved to dead letter stream",
		zap.String("stream_id", msg.ID),
		zap.String("reason", reason),
		zap.Int64("deliveries", deliveries),
		zap.Error(cause),
	)
	c.ack(ctx, msg.ID)
}
