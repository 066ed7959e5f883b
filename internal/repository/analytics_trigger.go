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

// ErrTriggerNotFound 触发记录不存在
var ErrTriggerNotFound = errors.New("analytics trigger not found")

// AnalyticsTriggerRepository 分析触发 outbox 仓库
type AnalyticsTriggerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAnalyticsTriggerRepository 创建触发记录仓库
func NewAnalyticsTriggerRepository(db *sql.DB, logger *zap.Logger) *AnalyticsTriggerRepository {
	return &AnalyticsTriggerRepository{
		db:     db,
		logger: logger,
	}
}

const triggerColumns = `trigger_id, child_id, meal_id, trigger_type, idempotency_key, "timestamp",
		       processed, published_at, processed_at`

func scanTrigger(row rowScanner) (*models.AnalyticsTrigger, error) {
	var t models.AnalyticsTrigger
	var publishedAt, processedAt sql.NullTime
	if err := row.Scan(
		&t.TriggerID,
		&t.ChildID,
		&t.MealID,
		&t.TriggerType,
		&t.IdempotencyKey,
		&t.Timestamp,
		&t.Processed,
		&publishedAt,
		&processedAt,
	); err != nil {
		return nil, err
	}
	if publishedAt.Valid {
		t.PublishedAt = &publishedAt.Time
	}
	if processedAt.Valid {
		t.ProcessedAt = &processedAt.Time
	}
	return &t, nil
}

// GetTrigger 按 ID 读取触发记录
func (r *AnalyticsTriggerRepository) GetTrigger(ctx context.Context, triggerID string) (*models.AnalyticsTrigger, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+triggerColumns+`
		FROM analytics_triggers
		WHERE trigger_id = $1
	`, triggerID)
	t, err := scanTrigger(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTriggerNotFound, triggerID)
		}
		return nil, fmt.Errorf("failed to get analytics trigger: %w", err)
	}
	return t, nil
}

// ListUnpublished 列出 createdBefore 之前写入、尚未投递的触发记录
func (r *AnalyticsTriggerRepository) ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]models.AnalyticsTrigger, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+triggerColumns+`
		FROM analytics_triggers
		WHERE published_at IS NULL AND "timestamp" < $1
		ORDER BY "timestamp"
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished triggers: %w", err)
	}
	defer rows.Close()

	var triggers []models.AnalyticsTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analytics trigger: %w", err)
		}
		triggers = append(triggers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analytics triggers: %w", err)
	}
	return triggers, nil
}

// ListByMeal 列出餐次的触发记录
func (r *AnalyticsTriggerRepository) ListByMeal(ctx context.Context, mealID string) ([]models.AnalyticsTrigger, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+triggerColumns+`
		FROM analytics_triggers
		WHERE meal_id = $1
		ORDER BY "timestamp"
	`, mealID)
	if err != nil {
		return nil, fmt.Errorf("failed to query meal triggers: %w", err)
	}
	defer rows.Close()

	var triggers []models.AnalyticsTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analytics trigger: %w", err)
		}
		triggers = append(triggers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analytics triggers: %w", err)
	}
	return triggers, nil
}

// MarkPublished 记录投递时间（只写第一次）
func (r *AnalyticsTriggerRepository) MarkPublished(ctx context.Context, triggerID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE analytics_triggers
		SET published_at = $2
		WHERE trigger_id = $1 AND published_at IS NULL
	`, triggerID, at)
	if err != nil {
		return fmt.Errorf("failed to mark trigger published: %w", err)
	}
	return nil
}

// MarkProcessed 标记触发记录已被分析任务消费
func (r *AnalyticsTriggerRepository) MarkProcessed(ctx context.Context, triggerID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE analytics_triggers
		SET processed = TRUE,
		    processed_at = $2,
		    published_at = COALESCE(published_at, $2)
		WHERE trigger_id = $1
	`, triggerID, at)
	if err != nil {
		return fmt.Errorf("failed to mark trigger processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTriggerNotFound, triggerID)
	}
	return nil
}
