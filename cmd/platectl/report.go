package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/pipeline"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/repository"

	"gopkg.in/yaml.v3"
)

// MealReport inspect 命令的输出
type MealReport struct {
	Meal          *models.Meal                      `yaml:"meal"`
	ActualEndTime *time.Time                        `yaml:"actualEndTime,omitempty"`
	Completion    *float64                          `yaml:"completionPercentage,omitempty"`
	Sections      map[string]models.SectionSnapshot `yaml:"sections,omitempty"`
	FoodItems     []models.MealFoodItem             `yaml:"foodItems"`
	AuditReadings int                               `yaml:"auditReadings"`
	Triggers      []TriggerView                     `yaml:"triggers"`
}

// TriggerView 触发记录的展示字段
type TriggerView struct {
	TriggerID      string     `yaml:"triggerId"`
	IdempotencyKey string     `yaml:"idempotencyKey"`
	Timestamp      time.Time  `yaml:"timestamp"`
	Processed      bool       `yaml:"processed"`
	PublishedAt    *time.Time `yaml:"publishedAt,omitempty"`
}

// BuildMealReport 汇总餐次、食物、审计读数与触发记录
func BuildMealReport(ctx context.Context, meals *repository.MealRepository, triggers *repository.AnalyticsTriggerRepository, mealID string) (*MealReport, error) {
	meal, err := meals.GetMeal(ctx, mealID)
	if err != nil {
		return nil, err
	}
	items, err := meals.ListFoodItems(ctx, mealID)
	if err != nil {
		return nil, err
	}
	audits, err := meals.CountReadings(ctx, mealID)
	if err != nil {
		return nil, err
	}
	list, err := triggers.ListByMeal(ctx, mealID)
	if err != nil {
		return nil, err
	}

	report := &MealReport{
		Meal:          meal,
		ActualEndTime: meal.ActualEndTime,
		Completion:    meal.CompletionPercentage,
		Sections:      meal.PlateData,
		FoodItems:     items,
		AuditReadings: audits,
		Triggers:      make([]TriggerView, 0, len(list)),
	}
	for _, t := range list {
		report.Triggers = append(report.Triggers, TriggerView{
			TriggerID:      t.TriggerID,
			IdempotencyKey: t.IdempotencyKey,
			Timestamp:      t.Timestamp,
			Processed:      t.Processed,
			PublishedAt:    t.PublishedAt,
		})
	}
	return report, nil
}

// writeYAML 以 YAML 输出
func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

// EvaluationView evaluate 命令的输出
type EvaluationView struct {
	MealID               string  `yaml:"mealId"`
	TotalItems           int     `yaml:"totalItems"`
	ConsumedItems        int     `yaml:"consumedItems"`
	CompletionPercentage float64 `yaml:"completionPercentage"`
	Completed            bool    `yaml:"completed"`
	Skipped              bool    `yaml:"skipped"`
	TriggerID            string  `yaml:"triggerId,omitempty"`
	Published            bool    `yaml:"published"`
}

func newEvaluationView(res *pipeline.Result) EvaluationView {
	v := EvaluationView{
		MealID:               res.MealID,
		TotalItems:           res.Evaluation.TotalItems,
		ConsumedItems:        res.Evaluation.ConsumedItems,
		CompletionPercentage: res.Evaluation.CompletionPercentage,
		Completed:            res.Evaluation.Completed,
		Skipped:              res.Evaluation.Skipped,
		Published:            res.Published,
	}
	if res.Trigger != nil {
		v.TriggerID = res.Trigger.TriggerID
	}
	return v
}
