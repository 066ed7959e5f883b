package analytics

import (
	"context"
	"fmt"
	"time"

	rediscommon "github.com/KeyResolver-0924/Plateful-sub000/common/redis"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// PublishMarker 记录 outbox 行的投递时间
type PublishMarker interface {
	MarkPublished(ctx context.Context, triggerID string, at time.Time) error
}

// Publisher 把分析触发记录投递到 Redis Stream
type Publisher struct {
	client  *redis.Client
	stream  string
	markers PublishMarker
	logger  *zap.Logger
	now     func() time.Time
}

// NewPublisher 创建投递器
func NewPublisher(client *redis.Client, stream string, markers PublishMarker, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		stream:  stream,
		markers: markers,
		logger:  logger,
		now:     time.Now,
	}
}

// Publish 写入 stream 后标记 published_at；标记失败只记录告警
func (p *Publisher) Publish(ctx context.Context, trigger *models.AnalyticsTrigger) error {
	id, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, trigger)
	if err != nil {
		return fmt.Errorf("failed to publish analytics trigger: %w", err)
	}

	if err := p.markers.MarkPublished(ctx, trigger.TriggerID, p.now()); err != nil {
		// 已投递，重复投递由消费端去重
		p.logger.Warn("Failed to mark analytics trigger published",
			zap.String("trigger_id", trigger.TriggerID),
			zap.Error(err),
		)
	}

	p.logger.Debug("Published analytics trigger",
		zap.String("trigger_id", trigger.TriggerID),
		zap.String("idempotency_key", trigger.IdempotencyKey),
		zap.String("stream", p.stream),
		zap.String("message_id", id),
	)
	return nil
}
