package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/pipeline"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// querier *sql.DB 与 *sql.Tx 的公共子集
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PlateStore 读数流水线的 PostgreSQL 事务存储
type PlateStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPlateStore 创建事务存储
func NewPlateStore(db *sql.DB, logger *zap.Logger) *PlateStore {
	return &PlateStore{
		db:     db,
		logger: logger,
	}
}

// WithinTx 在一个数据库事务中执行 fn；fn 返回错误或提交失败时回滚
func (s *PlateStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx pipeline.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, &plateTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// plateTx pipeline.Tx 的 PostgreSQL 实现
type plateTx struct {
	q querier
}

// MarkReadingProcessed 记录 reading_id，已存在时返回 false
func (t *plateTx) MarkReadingProcessed(ctx context.Context, readingID, mealID string, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO processed_readings (reading_id, meal_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (reading_id) DO NOTHING
	`, readingID, mealID, at)
	if err != nil {
		return false, fmt.Errorf("failed to insert processed reading: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// LockMeal SELECT ... FOR UPDATE 锁定餐次行
func (t *plateTx) LockMeal(ctx context.Context, mealID string) (*models.Meal, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT meal_id, child_id, scheduled_time, status, actual_end_time,
		       completion_percentage, created_at, updated_at
		FROM meals
		WHERE meal_id = $1
		FOR UPDATE
	`, mealID)

	meal, err := scanMeal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", pipeline.ErrMealNotFound, mealID)
		}
		return nil, fmt.Errorf("failed to lock meal: %w", err)
	}
	return meal, nil
}

// UpsertSection 覆盖 current_weight / last_update，累加 total_change
func (t *plateTx) UpsertSection(ctx context.Context, mealID string, reading models.PlateReading) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO meal_plate_sections (meal_id, plate_section, current_weight, last_update, total_change)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (meal_id, plate_section) DO UPDATE SET
			current_weight = EXCLUDED.current_weight,
			last_update    = EXCLUDED.last_update,
			total_change   = meal_plate_sections.total_change + EXCLUDED.total_change
	`, mealID, reading.PlateSection, reading.Weight, reading.Timestamp, reading.Change)
	if err != nil {
		return fmt.Errorf("failed to upsert plate section: %w", err)
	}
	return nil
}

// InsertPlateReading 写入审计读数（同一 reading_id 只写一次）
func (t *plateTx) InsertPlateReading(ctx context.Context, mealID string, reading models.PlateReading) error {
	readingID := reading.ReadingID
	if readingID == "" {
		readingID = uuid.NewString()
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO plate_readings (reading_id, meal_id, plate_section, weight, change, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (reading_id) DO NOTHING
	`, readingID, mealID, reading.PlateSection, reading.Weight, reading.Change, reading.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert plate reading: %w", err)
	}
	return nil
}

// LockFoodItemBySection 加锁读取分区对应的食物，未找到返回 (nil, nil)
func (t *plateTx) LockFoodItemBySection(ctx context.Context, mealID, section string) (*models.MealFoodItem, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+foodItemColumns+`
		FROM meal_food_items
		WHERE meal_id = $1 AND plate_section = $2
		FOR UPDATE
	`, mealID, section)

	item, err := scanFoodItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock food item: %w", err)
	}
	return item, nil
}

// UpdateFoodItemPortion 写回份量和互动数据
func (t *plateTx) UpdateFoodItemPortion(ctx context.Context, item *models.MealFoodItem) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE meal_food_items
		SET consumed_weight = $2,
		    consumed_percentage = $3,
		    final_weight = $4,
		    last_interaction = $5
		WHERE meal_food_item_id = $1
	`, item.MealFoodItemID,
		item.Portion.ConsumedWeight,
		item.Portion.ConsumedPercentage,
		nullFloat(item.Portion.FinalWeight),
		nullTime(item.Engagement.LastInteraction),
	)
	if err != nil {
		return fmt.Errorf("failed to update food item portion: %w", err)
	}
	return nil
}

// ListFoodItems 列出餐次的所有食物
func (t *plateTx) ListFoodItems(ctx context.Context, mealID string) ([]models.MealFoodItem, error) {
	return listFoodItems(ctx, t.q, mealID)
}

// MarkMealCompleted 标记完成；skipped 餐次不会被改写
func (t *plateTx) MarkMealCompleted(ctx context.Context, mealID string, endTime time.Time, completionPercentage float64) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE meals
		SET status = 'completed',
		    actual_end_time = $2,
		    completion_percentage = $3,
		    updated_at = $2
		WHERE meal_id = $1 AND status <> 'skipped'
	`, mealID, endTime, completionPercentage)
	if err != nil {
		return fmt.Errorf("failed to mark meal completed: %w", err)
	}
	return nil
}

// InsertAnalyticsTrigger 写入 outbox 行
func (t *plateTx) InsertAnalyticsTrigger(ctx context.Context, trigger *models.AnalyticsTrigger) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO analytics_triggers (
			trigger_id, child_id, meal_id, trigger_type, idempotency_key, "timestamp", processed
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, trigger.TriggerID, trigger.ChildID, trigger.MealID, trigger.TriggerType,
		trigger.IdempotencyKey, trigger.Timestamp, trigger.Processed)
	if err != nil {
		return fmt.Errorf("failed to insert analytics trigger: %w", err)
	}
	return nil
}
