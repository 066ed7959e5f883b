package models

import "time"

// PortionData 份量数据
type PortionData struct {
	InitialWeight      float64  `json:"initialWeight" yaml:"initialWeight"`
	ConsumedWeight     float64  `json:"consumedWeight" yaml:"consumedWeight"`
	ConsumedPercentage float64  `json:"consumedPercentage" yaml:"consumedPercentage"`
	FinalWeight        *float64 `json:"finalWeight,omitempty" yaml:"finalWeight,omitempty"`
}

// EngagementData 互动数据
type EngagementData struct {
	LastInteraction *time.Time `json:"lastInteractionTimestamp,omitempty" yaml:"-"`
}

// MealFoodItem 一次用餐中某个分区分配的食物
type MealFoodItem struct {
	MealFoodItemID string         `json:"mealFoodItemId" yaml:"id"`
	MealID         string         `json:"mealId" yaml:"mealId"`
	PlateSection   string         `json:"plateSection" yaml:"plateSection"`
	FoodID         string         `json:"foodId" yaml:"foodId"`
	Portion        PortionData    `json:"portionData" yaml:"portionData"`
	Engagement     EngagementData `json:"engagementData" yaml:"-"`
}
