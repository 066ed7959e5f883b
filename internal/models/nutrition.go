package models

import "time"

// Food 食物营养密度（每 100g）
type Food struct {
	FoodID          string  `json:"foodId" yaml:"id"`
	Name            string  `json:"name" yaml:"name"`
	CaloriesPer100g float64 `json:"caloriesPer100g" yaml:"caloriesPer100g"`
	ProteinPer100g  float64 `json:"proteinPer100g" yaml:"proteinPer100g"`
	CarbsPer100g    float64 `json:"carbsPer100g" yaml:"carbsPer100g"`
	FatPer100g      float64 `json:"fatPer100g" yaml:"fatPer100g"`
}

// DailyNutrition 孩子某一天的营养汇总
type DailyNutrition struct {
	ChildID        string    `json:"childId"`
	Date           time.Time `json:"date"`
	Calories       float64   `json:"calories"`
	Protein        float64   `json:"protein"`
	Carbs          float64   `json:"carbs"`
	Fat            float64   `json:"fat"`
	ConsumedWeight float64   `json:"consumedWeight"`
	MealsCompleted int       `json:"mealsCompleted"`
	ComputedAt     time.Time `json:"computedAt"`
}
