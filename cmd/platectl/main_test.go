package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const fixtureYAML = `
foods:
  - id: food-chicken
    name: Chicken
    caloriesPer100g: 165
    proteinPer100g: 31
meals:
  - mealId: meal-1
    childId: child-1
    scheduledTime: 2026-03-02T12:00:00Z
    status: scheduled
    foodItems:
      - id: item-1
        plateSection: protein
        foodId: food-chicken
        portionData:
          initialWeight: 120
readings:
  - mealId: meal-1
    readingId: r-1
    plateSection: protein
    weight: 100
    change: -20
    timestamp: 2026-03-02T12:05:00Z
  - mealId: meal-1
    plateSection: protein
    weight: 80
    change: -20
`

func TestLoadFixture(t *testing.T) {
	f, err := LoadFixture(strings.NewReader(fixtureYAML))
	require.NoError(t, err)

	require.Len(t, f.Foods, 1)
	assert.Equal(t, 31.0, f.Foods[0].ProteinPer100g)

	require.Len(t, f.Meals, 1)
	meal := f.Meals[0]
	assert.Equal(t, "child-1", meal.ChildID)
	assert.Equal(t, models.MealStatusScheduled, meal.Status)
	assert.True(t, meal.ScheduledTime.Equal(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)))
	require.Len(t, meal.FoodItems, 1)
	assert.Equal(t, "meal-1", meal.FoodItems[0].MealID, "items inherit their meal")
	assert.Equal(t, 120.0, meal.FoodItems[0].Portion.InitialWeight)

	require.Len(t, f.Readings, 2)
}

func TestLoadFixture_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown field":     "meals:\n  - mealId: m\n    child: c\n",
		"missing child":     "meals:\n  - mealId: m\n    scheduledTime: 2026-03-02T12:00:00Z\n",
		"missing schedule":  "meals:\n  - mealId: m\n    childId: c\n",
		"item without food": "meals:\n  - mealId: m\n    childId: c\n    scheduledTime: 2026-03-02T12:00:00Z\n    foodItems:\n      - id: i\n        plateSection: p\n",
		"reading section":   "readings:\n  - mealId: m\n    weight: 1\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFixture(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFixture_Empty(t *testing.T) {
	f, err := LoadFixture(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Meals)
}

func TestFixtureEvents(t *testing.T) {
	f, err := LoadFixture(strings.NewReader(fixtureYAML))
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)
	events := f.Events(now)
	require.Len(t, events, 2)

	assert.Equal(t, "r-1", events[0].Reading.ReadingID)
	assert.True(t, events[0].Reading.Timestamp.Equal(time.Date(2026, 3, 2, 12, 5, 0, 0, time.UTC)))
	assert.Len(t, events[1].Reading.ReadingID, 36, "generated uuid")
	assert.True(t, events[1].Reading.Timestamp.Equal(now))
	assert.Equal(t, now.UnixMilli(), events[1].ReceivedAt)
}

func TestReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f, err := LoadFixture(strings.NewReader(fixtureYAML))
	require.NoError(t, err)

	ids, err := Replay(context.Background(), client, "plate:readings:stream", f.Events(time.Now()))
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	msgs, err := client.XRange(context.Background(), "plate:readings:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Values["data"], `"readingId":"r-1"`)
}

func TestBuildMealReport(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 2, 12, 10, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM meals WHERE meal_id = \$1`).
		WithArgs("meal-1").
		WillReturnRows(sqlmock.NewRows([]string{"meal_id", "child_id", "scheduled_time", "status", "actual_end_time",
			"completion_percentage", "created_at", "updated_at"}).
			AddRow("meal-1", "child-1", at, "completed", at, 100.0, at, at))
	mock.ExpectQuery(`FROM meal_plate_sections`).
		WithArgs("meal-1").
		WillReturnRows(sqlmock.NewRows([]string{"plate_section", "current_weight", "last_update", "total_change"}).
			AddRow("protein", 20.0, at, -100.0))
	mock.ExpectQuery(`FROM meal_food_items`).
		WithArgs("meal-1").
		WillReturnRows(sqlmock.NewRows([]string{"meal_food_item_id", "meal_id", "plate_section", "food_id", "initial_weight",
			"consumed_weight", "consumed_percentage", "final_weight", "last_interaction"}).
			AddRow("item-1", "meal-1", "protein", "food-chicken", 120.0, 100.0, 83.3, 20.0, at))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM plate_readings`).
		WithArgs("meal-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(`FROM analytics_triggers WHERE meal_id = \$1`).
		WithArgs("meal-1").
		WillReturnRows(sqlmock.NewRows([]string{"trigger_id", "child_id", "meal_id", "trigger_type", "idempotency_key",
			"timestamp", "processed", "published_at", "processed_at"}).
			AddRow("t-1", "child-1", "meal-1", "meal_completion", "child-1:2026-03-02", at, true, at, at))

	logger := zap.NewNop()
	report, err := BuildMealReport(context.Background(),
		repository.NewMealRepository(db, logger),
		repository.NewAnalyticsTriggerRepository(db, logger),
		"meal-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 5, report.AuditReadings)
	require.Len(t, report.Triggers, 1)
	assert.Equal(t, "child-1:2026-03-02", report.Triggers[0].IdempotencyKey)

	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, report))

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 5, decoded["auditReadings"])
	assert.Contains(t, buf.String(), "mealId: meal-1")
	assert.Contains(t, buf.String(), "plateSection: protein")
}

func TestRootCmd_RejectsBadArgs(t *testing.T) {
	tests := [][]string{
		{"evaluate"},
		{"inspect", "a", "b"},
		{"seed"},
		{"migrate", "up", "extra"},
	}
	for _, args := range tests {
		root := newRootCmd()
		root.SetArgs(args)
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		assert.Error(t, root.Execute(), "%v", args)
	}
}
