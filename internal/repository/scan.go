package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const foodItemColumns = `meal_food_item_id, meal_id, plate_section, food_id, initial_weight,
		       consumed_weight, consumed_percentage, final_weight, last_interaction`

func scanMeal(row rowScanner) (*models.Meal, error) {
	var meal models.Meal
	var status string
	var actualEnd sql.NullTime
	var completion sql.NullFloat64

	if err := row.Scan(
		&meal.MealID,
		&meal.ChildID,
		&meal.ScheduledTime,
		&status,
		&actualEnd,
		&completion,
		&meal.CreatedAt,
		&meal.UpdatedAt,
	); err != nil {
		return nil, err
	}

	meal.Status = models.MealStatus(status)
	if actualEnd.Valid {
		meal.ActualEndTime = &actualEnd.Time
	}
	if completion.Valid {
		meal.CompletionPercentage = &completion.Float64
	}
	return &meal, nil
}

func scanFoodItem(row rowScanner) (*models.MealFoodItem, error) {
	var item models.MealFoodItem
	var finalWeight sql.NullFloat64
	var lastInteraction sql.NullTime

	if err := row.Scan(
		&item.MealFoodItemID,
		&item.MealID,
		&item.PlateSection,
		&item.FoodID,
		&item.Portion.InitialWeight,
		&item.Portion.ConsumedWeight,
		&item.Portion.ConsumedPercentage,
		&finalWeight,
		&lastInteraction,
	); err != nil {
		return nil, err
	}

	if finalWeight.Valid {
		item.Portion.FinalWeight = &finalWeight.Float64
	}
	if lastInteraction.Valid {
		item.Engagement.LastInteraction = &lastInteraction.Time
	}
	return &item, nil
}

func listFoodItems(ctx context.Context, q querier, mealID string) ([]models.MealFoodItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+foodItemColumns+`
		FROM meal_food_items
		WHERE meal_id = $1
		ORDER BY meal_food_item_id
	`, mealID)
	if err != nil {
		return nil, fmt.Errorf("failed to query food items: %w", err)
	}
	defer rows.Close()

	var items []models.MealFoodItem
	for rows.Next() {
		item, err := scanFoodItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan food item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate food items: %w", err)
	}
	return items, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
