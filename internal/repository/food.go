package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"go.uber.org/zap"
)

// FoodRepository 食物营养密度仓库
type FoodRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFoodRepository 创建食物仓库
func NewFoodRepository(db *sql.DB, logger *zap.Logger) *FoodRepository {
	return &FoodRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertFood 创建或更新食物
func (r *FoodRepository) UpsertFood(ctx context.Context, food *models.Food) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO foods (food_id, name, calories_per_100g, protein_per_100g, carbs_per_100g, fat_per_100g)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (food_id) DO UPDATE SET
			name              = EXCLUDED.name,
			calories_per_100g = EXCLUDED.calories_per_100g,
			protein_per_100g  = EXCLUDED.protein_per_100g,
			carbs_per_100g    = EXCLUDED.carbs_per_100g,
			fat_per_100g      = EXCLUDED.fat_per_100g
	`, food.FoodID, food.Name, food.CaloriesPer100g, food.ProteinPer100g, food.CarbsPer100g, food.FatPer100g)
	if err != nil {
		return fmt.Errorf("failed to upsert food: %w", err)
	}
	return nil
}
