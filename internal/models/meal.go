package models

import "time"

// MealStatus 餐次状态
type MealStatus string

const (
	MealStatusScheduled MealStatus = "scheduled"
	MealStatusCompleted MealStatus = "completed"
	MealStatusSkipped   MealStatus = "skipped"
)

// Valid 是否为已知状态
func (s MealStatus) Valid() bool {
	switch s {
	case MealStatusScheduled, MealStatusCompleted, MealStatusSkipped:
		return true
	}
	return false
}

// SectionSnapshot 餐盘某一分区的最新称重快照（plateData.sections.<section>）
type SectionSnapshot struct {
	CurrentWeight float64   `json:"currentWeight" yaml:"currentWeight"`
	LastUpdate    time.Time `json:"lastUpdate" yaml:"lastUpdate"`
	TotalChange   float64   `json:"totalChange" yaml:"totalChange"`
}

// Meal 孩子的一次计划用餐
type Meal struct {
	MealID               string                     `json:"mealId" yaml:"mealId"`
	ChildID              string                     `json:"childId" yaml:"childId"`
	ScheduledTime        time.Time                  `json:"scheduledTime" yaml:"scheduledTime"`
	Status               MealStatus                 `json:"status" yaml:"status"`
	PlateData            map[string]SectionSnapshot `json:"plateData,omitempty" yaml:"-"`
	ActualEndTime        *time.Time                 `json:"actualEndTime,omitempty" yaml:"-"`
	CompletionPercentage *float64                   `json:"completionPercentage,omitempty" yaml:"-"`
	CreatedAt            time.Time                  `json:"createdAt" yaml:"-"`
	UpdatedAt            time.Time                  `json:"updatedAt" yaml:"-"`
}
