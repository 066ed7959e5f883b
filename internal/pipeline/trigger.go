package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TriggerEmitter 在用餐完成的同一事务里写入分析触发记录
type TriggerEmitter struct {
	location *time.Location
	logger   *zap.Logger
}

// NewTriggerEmitter 创建触发器；location 决定幂等键里的日期
func NewTriggerEmitter(location *time.Location, logger *zap.Logger) *TriggerEmitter {
	if location == nil {
		location = time.UTC
	}
	return &TriggerEmitter{location: location, logger: logger}
}

// Emit 写入 {childId, triggerType: meal_completion, timestamp, processed: false}
func (t *TriggerEmitter) Emit(ctx context.Context, tx TriggerWriter, meal *models.Meal, now time.Time) (*models.AnalyticsTrigger, error) {
	trigger := &models.AnalyticsTrigger{
		TriggerID:      uuid.NewString(),
		ChildID:        meal.ChildID,
		MealID:         meal.MealID,
		TriggerType:    models.TriggerTypeMealCompletion,
		IdempotencyKey: models.NutritionIdempotencyKey(meal.ChildID, meal.ScheduledTime.In(t.location)),
		Timestamp:      now,
		Processed:      false,
	}

	if err := tx.InsertAnalyticsTrigger(ctx, trigger); err != nil {
		return nil, fmt.Errorf("failed to write analytics trigger: %w", err)
	}

	t.logger.Debug("Analytics trigger written",
		zap.String("trigger_id", trigger.TriggerID),
		zap.String("child_id", trigger.ChildID),
		zap.String("idempotency_key", trigger.IdempotencyKey),
	)
	return trigger, nil
}
