package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"go.uber.org/zap"
)

// Evaluation 完成判定结果
type Evaluation struct {
	TotalItems    int
	ConsumedItems int
	// Completed 本次判定把餐次标记为 completed
	Completed            bool
	CompletionPercentage float64
	// Skipped 餐次已被跳过，不参与判定
	Skipped bool
}

// CompletionEvaluator 根据“80% 的食物达到 80% 消耗”判定用餐完成
type CompletionEvaluator struct {
	itemThreshold   float64
	completionRatio float64
	logger          *zap.Logger
}

// NewCompletionEvaluator 创建完成判定器
func NewCompletionEvaluator(itemThreshold, completionRatio float64, logger *zap.Logger) *CompletionEvaluator {
	return &CompletionEvaluator{
		itemThreshold:   itemThreshold,
		completionRatio: completionRatio,
		logger:          logger,
	}
}

// Evaluate 满足条件时把餐次标记为完成。已完成的餐次再次满足条件会重写 actualEndTime。
func (e *CompletionEvaluator) Evaluate(ctx context.Context, tx CompletionStore, meal *models.Meal, now time.Time) (Evaluation, error) {
	if meal.Status == models.MealStatusSkipped {
		return Evaluation{Skipped: true}, nil
	}

	items, err := tx.ListFoodItems(ctx, meal.MealID)
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to list food items: %w", err)
	}

	eval := e.Check(items)
	if !eval.Completed {
		return eval, nil
	}

	if err := tx.MarkMealCompleted(ctx, meal.MealID, now, eval.CompletionPercentage); err != nil {
		return Evaluation{}, fmt.Errorf("failed to mark meal completed: %w", err)
	}

	endTime := now
	pct := eval.CompletionPercentage
	meal.Status = models.MealStatusCompleted
	meal.ActualEndTime = &endTime
	meal.CompletionPercentage = &pct

	e.logger.Info("Meal completed",
		zap.String("meal_id", meal.MealID),
		zap.String("child_id", meal.ChildID),
		zap.Int("consumed_items", eval.ConsumedItems),
		zap.Int("total_items", eval.TotalItems),
		zap.Float64("completion_percentage", eval.CompletionPercentage),
	)
	return eval, nil
}

// Check 只做计数判定，不写存储。没有食物的餐次永远不会完成。
func (e *CompletionEvaluator) Check(items []models.MealFoodItem) Evaluation {
	eval := Evaluation{TotalItems: len(items)}
	if len(items) == 0 {
		return eval
	}

	for _, item := range items {
		if item.Portion.ConsumedPercentage >= e.itemThreshold {
			eval.ConsumedItems++
		}
	}

	// consumed/total >= ratio%，用乘法避免整数比例的浮点误差
	if float64(eval.ConsumedItems)*100 >= float64(eval.TotalItems)*e.completionRatio {
		eval.Completed = true
		eval.CompletionPercentage = float64(eval.ConsumedItems) / float64(eval.TotalItems) * 100
	}
	return eval
}
