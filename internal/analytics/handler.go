package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"go.uber.org/zap"
)

// ErrInvalidTrigger 触发记录缺少必填字段
var ErrInvalidTrigger = errors.New("invalid analytics trigger")

// ProcessedMarker 标记触发记录已消费
type ProcessedMarker interface {
	MarkProcessed(ctx context.Context, triggerID string, at time.Time) error
}

// Outcome 单条触发记录的处理结果
type Outcome struct {
	// Skipped 水位线已覆盖，未重算
	Skipped   bool
	Nutrition *models.DailyNutrition
}

// TriggerHandler 处理用餐完成触发：水位线去重 → 重算每日营养 → 标记已处理 → 推进水位线
type TriggerHandler struct {
	watermark  *Watermark
	calculator *NutritionCalculator
	markers    ProcessedMarker
	logger     *zap.Logger
	now        func() time.Time
}

// NewTriggerHandler 创建触发处理器
func NewTriggerHandler(watermark *Watermark, calculator *NutritionCalculator, markers ProcessedMarker, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{
		watermark:  watermark,
		calculator: calculator,
		markers:    markers,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle 处理一条触发记录；enqueuedAt 为消息入流时间（流消息 ID）。返回错误时消息应保留待重投
func (h *TriggerHandler) Handle(ctx context.Context, trigger *models.AnalyticsTrigger, enqueuedAt time.Time) (*Outcome, error) {
	if trigger.TriggerID == "" || trigger.ChildID == "" {
		return nil, fmt.Errorf("%w: missing trigger_id or childId", ErrInvalidTrigger)
	}
	if trigger.TriggerType != models.TriggerTypeMealCompletion {
		return nil, fmt.Errorf("%w: unsupported trigger type %q", ErrInvalidTrigger, trigger.TriggerType)
	}

	day, err := TriggerDay(trigger, h.calculator.Location())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	key := trigger.IdempotencyKey
	if key == "" {
		key = models.NutritionIdempotencyKey(trigger.ChildID, day)
	}

	covered, err := h.watermark.Covered(ctx, key, enqueuedAt)
	if err != nil {
		return nil, err
	}
	if covered {
		if err := h.markers.MarkProcessed(ctx, trigger.TriggerID, h.now()); err != nil {
			return nil, err
		}
		h.logger.Debug("Analytics trigger already covered",
			zap.String("trigger_id", trigger.TriggerID),
			zap.String("idempotency_key", key),
			zap.Time("enqueued_at", enqueuedAt),
		)
		return &Outcome{Skipped: true}, nil
	}

	startedAt, err := h.watermark.Now(ctx)
	if err != nil {
		return nil, err
	}
	n, _, err := h.calculator.Recompute(ctx, trigger.ChildID, day)
	if err != nil {
		return nil, err
	}
	if err := h.markers.MarkProcessed(ctx, trigger.TriggerID, h.now()); err != nil {
		return nil, err
	}
	if err := h.watermark.Advance(ctx, key, startedAt); err != nil {
		return nil, err
	}

	return &Outcome{Nutrition: n}, nil
}
