package models

import (
	"fmt"
	"time"
)

// TriggerTypeMealCompletion 用餐完成触发类型
const TriggerTypeMealCompletion = "meal_completion"

// AnalyticsTrigger 用餐完成后交给营养分析任务的触发记录
type AnalyticsTrigger struct {
	TriggerID      string     `json:"triggerId"`
	ChildID        string     `json:"childId"`
	MealID         string     `json:"mealId"`
	TriggerType    string     `json:"triggerType"`
	IdempotencyKey string     `json:"idempotencyKey"`
	Timestamp      time.Time  `json:"timestamp"`
	Processed      bool       `json:"processed"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty"`
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`
}

// NutritionIdempotencyKey 每日营养重算的幂等键（孩子 + 日期）
func NutritionIdempotencyKey(childID string, day time.Time) string {
	return fmt.Sprintf("%s:%s", childID, day.Format("2006-01-02"))
}
