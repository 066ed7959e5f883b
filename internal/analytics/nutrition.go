package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"go.uber.org/zap"
)

// NutritionStore 每日营养的汇总与写入
type NutritionStore interface {
	Aggregate(ctx context.Context, childID string, day time.Time, loc *time.Location) (*models.DailyNutrition, error)
	Upsert(ctx context.Context, n *models.DailyNutrition) (bool, error)
}

// NutritionCalculator 重算孩子某一天的营养汇总
type NutritionCalculator struct {
	store    NutritionStore
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// NewNutritionCalculator 创建营养计算器；location 为 nil 时使用 UTC
func NewNutritionCalculator(store NutritionStore, location *time.Location, logger *zap.Logger) *NutritionCalculator {
	if location == nil {
		location = time.UTC
	}
	return &NutritionCalculator{
		store:    store,
		location: location,
		logger:   logger,
		now:      time.Now,
	}
}

// Location 日期划分所用时区
func (c *NutritionCalculator) Location() *time.Location {
	return c.location
}

// Recompute 从已完成餐次重新汇总并写入，返回汇总结果与是否写入
func (c *NutritionCalculator) Recompute(ctx context.Context, childID string, day time.Time) (*models.DailyNutrition, bool, error) {
	n, err := c.store.Aggregate(ctx, childID, day, c.location)
	if err != nil {
		return nil, false, err
	}
	n.ComputedAt = c.now()

	written, err := c.store.Upsert(ctx, n)
	if err != nil {
		return nil, false, err
	}

	c.logger.Info("Daily nutrition recomputed",
		zap.String("child_id", childID),
		zap.String("date", n.Date.Format("2006-01-02")),
		zap.Int("meals_completed", n.MealsCompleted),
		zap.Float64("calories", n.Calories),
		zap.Bool("written", written),
	)
	return n, written, nil
}

// TriggerDay 解析触发记录对应的用餐日期：优先取幂等键中的日期，否则取触发时间
func TriggerDay(trigger *models.AnalyticsTrigger, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	key := trigger.IdempotencyKey
	if key == "" {
		return trigger.Timestamp.In(loc), nil
	}
	idx := strings.LastIndex(key, ":")
	if idx < 0 || idx == len(key)-1 {
		return time.Time{}, fmt.Errorf("invalid idempotency key %q", key)
	}
	day, err := time.ParseInLocation("2006-01-02", key[idx+1:], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid idempotency key %q: %w", key, err)
	}
	return day, nil
}
