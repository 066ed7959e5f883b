package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"go.uber.org/zap"
)

// ErrNutritionNotFound 当日营养汇总不存在
var ErrNutritionNotFound = errors.New("daily nutrition not found")

// DailyNutritionRepository 每日营养汇总仓库
type DailyNutritionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDailyNutritionRepository 创建每日营养仓库
func NewDailyNutritionRepository(db *sql.DB, logger *zap.Logger) *DailyNutritionRepository {
	return &DailyNutritionRepository{
		db:     db,
		logger: logger,
	}
}

// DayBounds 返回 day 在 loc 时区内的 [start, end)
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Aggregate 汇总孩子当天所有已完成餐次的摄入量
// 消耗重量按初始份量封顶，再乘以每 100g 营养密度
func (r *DailyNutritionRepository) Aggregate(ctx context.Context, childID string, day time.Time, loc *time.Location) (*models.DailyNutrition, error) {
	start, end := DayBounds(day, loc)

	n := &models.DailyNutrition{
		ChildID: childID,
		Date:    start,
	}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT m.meal_id),
		       COALESCE(SUM(LEAST(i.consumed_weight, i.initial_weight)), 0),
		       COALESCE(SUM(LEAST(i.consumed_weight, i.initial_weight) * f.calories_per_100g / 100), 0),
		       COALESCE(SUM(LEAST(i.consumed_weight, i.initial_weight) * f.protein_per_100g / 100), 0),
		       COALESCE(SUM(LEAST(i.consumed_weight, i.initial_weight) * f.carbs_per_100g / 100), 0),
		       COALESCE(SUM(LEAST(i.consumed_weight, i.initial_weight) * f.fat_per_100g / 100), 0)
		FROM meals m
		JOIN meal_food_items i ON i.meal_id = m.meal_id
		JOIN foods f ON f.food_id = i.food_id
		WHERE m.child_id = $1
		  AND m.status = 'completed'
		  AND m.scheduled_time >= $2
		  AND m.scheduled_time < $3
	`, childID, start, end).Scan(
		&n.MealsCompleted,
		&n.ConsumedWeight,
		&n.Calories,
		&n.Protein,
		&n.Carbs,
		&n.Fat,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily nutrition: %w", err)
	}
	return n, nil
}

// Upsert 写入汇总；已有更新的 computed_at 时保持不变，返回是否写入
func (r *DailyNutritionRepository) Upsert(ctx context.Context, n *models.DailyNutrition) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_nutrition (
			child_id, nutrition_date, calories, protein, carbs, fat,
			consumed_weight, meals_completed, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (child_id, nutrition_date) DO UPDATE SET
			calories        = EXCLUDED.calories,
			protein         = EXCLUDED.protein,
			carbs           = EXCLUDED.carbs,
			fat             = EXCLUDED.fat,
			consumed_weight = EXCLUDED.consumed_weight,
			meals_completed = EXCLUDED.meals_completed,
			computed_at     = EXCLUDED.computed_at
		WHERE daily_nutrition.computed_at <= EXCLUDED.computed_at
	`, n.ChildID, n.Date.Format("2006-01-02"), n.Calories, n.Protein, n.Carbs, n.Fat,
		n.ConsumedWeight, n.MealsCompleted, n.ComputedAt)
	if err != nil {
		return false, fmt.Errorf("failed to upsert daily nutrition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// Get 读取孩子某一天的营养汇总
func (r *DailyNutritionRepository) Get(ctx context.Context, childID string, day time.Time, loc *time.Location) (*models.DailyNutrition, error) {
	start, _ := DayBounds(day, loc)

	n := &models.DailyNutrition{ChildID: childID, Date: start}
	err := r.db.QueryRowContext(ctx, `
		SELECT calories, protein, carbs, fat, consumed_weight, meals_completed, computed_at
		FROM daily_nutrition
		WHERE child_id = $1 AND nutrition_date = $2
	`, childID, start.Format("2006-01-02")).Scan(
		&n.Calories,
		&n.Protein,
		&n.Carbs,
		&n.Fat,
		&n.ConsumedWeight,
		&n.MealsCompleted,
		&n.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", ErrNutritionNotFound, childID, start.Format("2006-01-02"))
		}
		return nil, fmt.Errorf("failed to get daily nutrition: %w", err)
	}
	return n, nil
}
