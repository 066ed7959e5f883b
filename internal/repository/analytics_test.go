package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/pipeline"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var triggerRowColumns = []string{"trigger_id", "child_id", "meal_id", "trigger_type", "idempotency_key",
	"timestamp", "processed", "published_at", "processed_at"}

func TestGetMeal_WithSections(t *testing.T) {
	db, mock, _ := setupMockDB(t)
	defer db.Close()
	repo := NewMealRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM meals WHERE meal_id = \$1`).
		WithArgs("meal-1").
		WillReturnRows(sqlmock.NewRows(mealColumns).
			AddRow("meal-1", "child-1", testTime, "completed", testTime, 100.0, testTime, testTime))
	mock.ExpectQuery(`FROM meal_plate_sections`).
		WithArgs("meal-1").
		WillReturnRows(sqlmock.NewRows([]string{"plate_section", "current_weight", "last_update", "total_change"}).
			AddRow("protein", 12.5, testTime, -30.0).
			AddRow("vegetable", 40.0, testTime, -5.0))

	meal, err := repo.GetMeal(context.Background(), "meal-1")
	require.NoError(t, err)
	assert.Equal(t, models.MealStatusCompleted, meal.Status)
	require.NotNil(t, meal.CompletionPercentage)
	assert.Equal(t, 100.0, *meal.CompletionPercentage)
	require.Len(t, meal.PlateData, 2)
	assert.Equal(t, -30.0, meal.PlateData["protein"].TotalChange)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMeal_NotFound(t *testing.T) {
	db, mock, _ := setupMockDB(t)
	defer db.Close()
	repo := NewMealRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM meals`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(mealColumns))

	_, err := repo.GetMeal(context.Background(), "nope")
	assert.True(t, errors.Is(err, pipeline.ErrMealNotFound))
}

func TestUpsertMeal_RejectsUnknownStatus(t *testing.T) {
	db, mock, _ := setupMockDB(t)
	defer db.Close()
	repo := NewMealRepository(db, zap.NewNop())

	err := repo.UpsertMeal(context.Background(), &models.Meal{MealID: "m", Status: "eaten"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMeal_DefaultsToScheduled(t *testing.T) {
	db, mock, _ := setupMockDB(t)
	defer db.Close()
	repo := NewMealRepository(db, zap.NewNop())

	mock.ExpectExec(`INSERT INTO meals`).
		WithArgs("meal-1", "child-1", testTime, "scheduled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertMeal(context.Background(), &models.Meal{MealID: "meal-1", ChildID: "child-1", ScheduledTime: testTime})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnpublished(t *testing.T) {
	db, mock, _ := setupMockDB(t)
	defer db.Close()
	repo := NewAnalyticsTriggerRepository(db, zap.NewNop())

	mock.ExpectQuery(`WHERE published_at IS NULL`).
		WithArgs(testTime, 100).
		WillReturnRows(sqlmock.NewRows(triggerRowColumns).
			AddRow("t-1", "child-1", "meal-1", "meal_completion", "child-1:2026-03-02", testTime, false, nil, nil))

	triggers, err := repo.ListUnpublished(context.Background(), testTime, 0)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "child-1:2026-03-02", triggers[0].IdempotencyKey)
	assert.Nil(t, triggers[0].PublishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessed_NotFound(t *testing.T) {
	db, mock, _ := setupMockDB(t)
	defer db.Close()
	repo := NewAnalyticsTriggerRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE analytics_triggers SET processed = TRUE`).
		WithArgs("t-x", testTime).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkProcessed(context.Background(), "t-x", testTime)
	assert.True(t, errors.Is(err, ErrTriggerNotFound))
}

func TestDayBounds_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	// UTC 18:00 在 UTC+8 已是第二天
	start, end := DayBounds(time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC), loc)
	assert.Equal(t, "2026-03-03", start.Format("2006-01-02"))
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	start, _ = DayBounds(time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC), nil)
	assert.Equal(t, "2026-03-02", start.Format("2006-01-02"))
}

func TestAggregateAndUpsertNutrition(t *testing.T) {
	db, mock, _ := setupMockDB(t)
	defer db.Close()
	repo := NewDailyNutritionRepository(db, zap.NewNop())

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM meals m JOIN meal_food_items i`).
		WithArgs("child-1", start, start.AddDate(0, 0, 1)).
		WillReturnRows(sqlmock.NewRows([]string{"meals", "weight", "calories", "protein", "carbs", "fat"}).
			AddRow(2, 300.0, 450.0, 20.0, 60.0, 12.0))

	n, err := repo.Aggregate(context.Background(), "child-1", testTime, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 2, n.MealsCompleted)
	assert.Equal(t, 450.0, n.Calories)
	assert.True(t, start.Equal(n.Date))

	n.ComputedAt = testTime
	mock.ExpectExec(`INSERT INTO daily_nutrition`).
		WithArgs("child-1", "2026-03-02", 450.0, 20.0, 60.0, 12.0, 300.0, 2, testTime).
		WillReturnResult(sqlmock.NewResult(0, 0))

	written, err := repo.Upsert(context.Background(), n)
	require.NoError(t, err)
	// 已有更新的 computed_at，保持不变
	assert.False(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}
