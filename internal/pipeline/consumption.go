package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"go.uber.org/zap"
)

// maxConsumedPercentage 消耗百分比上限
const maxConsumedPercentage = 100.0

// ConsumptionUpdater 把分区的重量变化映射到该分区的食物上
type ConsumptionUpdater struct {
	logger *zap.Logger
}

// NewConsumptionUpdater 创建消耗更新器
func NewConsumptionUpdater(logger *zap.Logger) *ConsumptionUpdater {
	return &ConsumptionUpdater{logger: logger}
}

// Apply 找不到 (meal, section) 对应的食物时返回 (nil, nil)。
//
// consumedWeight += |change|；consumedPercentage = min(100, prev + |change|/initialWeight*100)；
// finalWeight = weight；lastInteraction = now。initialWeight <= 0 时百分比保持不变。
func (u *ConsumptionUpdater) Apply(ctx context.Context, tx FoodItemStore, mealID string, reading models.PlateReading, now time.Time) (*models.MealFoodItem, error) {
	item, err := tx.LockFoodItemBySection(ctx, mealID, reading.PlateSection)
	if err != nil {
		return nil, fmt.Errorf("failed to load food item for section %s: %w", reading.PlateSection, err)
	}
	if item == nil {
		u.logger.Debug("No food item assigned to plate section",
			zap.String("meal_id", mealID),
			zap.String("plate_section", reading.PlateSection),
		)
		return nil, nil
	}

	applyConsumption(item, reading, now, u.logger)

	if err := tx.UpdateFoodItemPortion(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to update food item %s: %w", item.MealFoodItemID, err)
	}
	return item, nil
}

func applyConsumption(item *models.MealFoodItem, reading models.PlateReading, now time.Time, logger *zap.Logger) {
	consumedDelta := reading.AbsChange()
	item.Portion.ConsumedWeight += consumedDelta

	if item.Portion.InitialWeight > 0 {
		percentageDelta := consumedDelta / item.Portion.InitialWeight * 100
		item.Portion.ConsumedPercentage = math.Min(maxConsumedPercentage, item.Portion.ConsumedPercentage+percentageDelta)
	} else {
		logger.Warn("Food item has no initial weight, consumed percentage unchanged",
			zap.String("meal_food_item_id", item.MealFoodItemID),
			zap.String("plate_section", item.PlateSection),
			zap.Float64("initial_weight", item.Portion.InitialWeight),
		)
	}

	finalWeight := reading.Weight
	item.Portion.FinalWeight = &finalWeight
	interaction := now
	item.Engagement.LastInteraction = &interaction
}
