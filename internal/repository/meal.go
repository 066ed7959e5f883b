package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/pipeline"

	"go.uber.org/zap"
)

// MealRepository 餐次仓库
type MealRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMealRepository 创建餐次仓库
func NewMealRepository(db *sql.DB, logger *zap.Logger) *MealRepository {
	return &MealRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertMeal 创建或覆盖餐次（seed 使用）
func (r *MealRepository) UpsertMeal(ctx context.Context, meal *models.Meal) error {
	status := meal.Status
	if status == "" {
		status = models.MealStatusScheduled
	}
	if !status.Valid() {
		return fmt.Errorf("invalid meal status: %s", status)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO meals (meal_id, child_id, scheduled_time, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (meal_id) DO UPDATE SET
			child_id       = EXCLUDED.child_id,
			scheduled_time = EXCLUDED.scheduled_time,
			status         = EXCLUDED.status,
			updated_at     = NOW()
	`, meal.MealID, meal.ChildID, meal.ScheduledTime, string(status))
	if err != nil {
		return fmt.Errorf("failed to upsert meal: %w", err)
	}
	return nil
}

// GetMeal 读取餐次及其分区快照
func (r *MealRepository) GetMeal(ctx context.Context, mealID string) (*models.Meal, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT meal_id, child_id, scheduled_time, status, actual_end_time,
		       completion_percentage, created_at, updated_at
		FROM meals
		WHERE meal_id = $1
	`, mealID)

	meal, err := scanMeal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", pipeline.ErrMealNotFound, mealID)
		}
		return nil, fmt.Errorf("failed to get meal: %w", err)
	}

	sections, err := r.listSections(ctx, mealID)
	if err != nil {
		return nil, err
	}
	meal.PlateData = sections
	return meal, nil
}

func (r *MealRepository) listSections(ctx context.Context, mealID string) (map[string]models.SectionSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT plate_section, current_weight, last_update, total_change
		FROM meal_plate_sections
		WHERE meal_id = $1
	`, mealID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plate sections: %w", err)
	}
	defer rows.Close()

	sections := make(map[string]models.SectionSnapshot)
	for rows.Next() {
		var section string
		var snap models.SectionSnapshot
		if err := rows.Scan(&section, &snap.CurrentWeight, &snap.LastUpdate, &snap.TotalChange); err != nil {
			return nil, fmt.Errorf("failed to scan plate section: %w", err)
		}
		sections[section] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plate sections: %w", err)
	}
	return sections, nil
}

// ListFoodItems 列出餐次食物（只读，不加锁）
func (r *MealRepository) ListFoodItems(ctx context.Context, mealID string) ([]models.MealFoodItem, error) {
	return listFoodItems(ctx, r.db, mealID)
}

// UpsertFoodItem 创建或覆盖餐次食物的分配（消耗数据归零）
func (r *MealRepository) UpsertFoodItem(ctx context.Context, item *models.MealFoodItem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO meal_food_items (
			meal_food_item_id, meal_id, plate_section, food_id, initial_weight,
			consumed_weight, consumed_percentage
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (meal_food_item_id) DO UPDATE SET
			meal_id             = EXCLUDED.meal_id,
			plate_section       = EXCLUDED.plate_section,
			food_id             = EXCLUDED.food_id,
			initial_weight      = EXCLUDED.initial_weight,
			consumed_weight     = EXCLUDED.consumed_weight,
			consumed_percentage = EXCLUDED.consumed_percentage,
			final_weight        = NULL,
			last_interaction    = NULL
	`, item.MealFoodItemID, item.MealID, item.PlateSection, item.FoodID,
		item.Portion.InitialWeight, item.Portion.ConsumedWeight, item.Portion.ConsumedPercentage)
	if err != nil {
		return fmt.Errorf("failed to upsert meal food item: %w", err)
	}
	return nil
}

// CountReadings 统计餐次的审计读数
func (r *MealRepository) CountReadings(ctx context.Context, mealID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM plate_readings WHERE meal_id = $1
	`, mealID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count plate readings: %w", err)
	}
	return n, nil
}

// PurgeProcessedReadings 清理早于 before 的去重记录
func (r *MealRepository) PurgeProcessedReadings(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM processed_readings WHERE processed_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge processed readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		r.logger.Info("Purged processed readings",
			zap.Int64("count", n),
			zap.Time("before", before),
		)
	}
	return n, nil
}
