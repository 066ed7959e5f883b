// Package pipeline 餐盘读数处理流水线：分区重量聚合 → 食物消耗更新 → 用餐完成判定 → 营养分析触发。
//
// 单条读数的四个步骤在同一个存储事务中执行，事务开始时锁定餐次行，
// 同一餐次的并发读数因此串行化；任一步骤失败则整体回滚。
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
)

// ErrMealNotFound 读数引用的餐次不存在
var ErrMealNotFound = errors.New("meal not found")

// ErrInvalidReading 读数字段缺失或非法
var ErrInvalidReading = errors.New("invalid plate reading")

// Thresholds 流水线阈值
type Thresholds struct {
	// SignificantChange |change| 大于该值时写入审计读数
	SignificantChange float64
	// ItemConsumed 单个食物视为“吃完”的消耗百分比
	ItemConsumed float64
	// MealCompletionRatio 达标食物占比（百分比）达到该值时判定用餐完成
	MealCompletionRatio float64
}

// DefaultThresholds 默认阈值：0.5 / 80% / 80%
func DefaultThresholds() Thresholds {
	return Thresholds{
		SignificantChange:   0.5,
		ItemConsumed:        80,
		MealCompletionRatio: 80,
	}
}

// SectionWriter 分区快照与审计读数写入
type SectionWriter interface {
	UpsertSection(ctx context.Context, mealID string, reading models.PlateReading) error
	InsertPlateReading(ctx context.Context, mealID string, reading models.PlateReading) error
}

// FoodItemStore 按分区定位并更新餐次食物
type FoodItemStore interface {
	// LockFoodItemBySection 未找到时返回 (nil, nil)
	LockFoodItemBySection(ctx context.Context, mealID, section string) (*models.MealFoodItem, error)
	UpdateFoodItemPortion(ctx context.Context, item *models.MealFoodItem) error
}

// CompletionStore 完成判定所需的读写
type CompletionStore interface {
	ListFoodItems(ctx context.Context, mealID string) ([]models.MealFoodItem, error)
	MarkMealCompleted(ctx context.Context, mealID string, endTime time.Time, completionPercentage float64) error
}

// TriggerWriter 分析触发记录（outbox）写入
type TriggerWriter interface {
	InsertAnalyticsTrigger(ctx context.Context, trigger *models.AnalyticsTrigger) error
}

// Tx 单次读数处理所用的事务视图
type Tx interface {
	SectionWriter
	FoodItemStore
	CompletionStore
	TriggerWriter

	// MarkReadingProcessed 记录读数已处理；已存在时返回 false
	MarkReadingProcessed(ctx context.Context, readingID, mealID string, at time.Time) (bool, error)
	// LockMeal 加锁读取餐次；不存在时返回 ErrMealNotFound
	LockMeal(ctx context.Context, mealID string) (*models.Meal, error)
}

// Store 提供事务边界；fn 返回错误时回滚
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Publisher 事务提交后投递分析触发记录
type Publisher interface {
	Publish(ctx context.Context, trigger *models.AnalyticsTrigger) error
}
