package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func seededTx(t *testing.T) (*memStore, *memTx) {
	t.Helper()
	store := newMemStore()
	store.addMeal(models.Meal{
		MealID:        "meal-1",
		ChildID:       "child-1",
		ScheduledTime: baseTime,
		Status:        models.MealStatusScheduled,
	})
	return store, &memTx{state: store.state, failOn: store.failOn}
}

func reading(section string, weight, change float64, at time.Time) models.PlateReading {
	return models.PlateReading{PlateSection: section, Weight: weight, Change: change, Timestamp: at}
}

func TestWeightAggregator_AuditThreshold(t *testing.T) {
	cases := []struct {
		name   string
		change float64
		audit  bool
	}{
		{"below threshold", 0.3, false},
		{"exactly threshold", 0.5, false},
		{"negative exactly threshold", -0.5, false},
		{"just above threshold", 0.51, true},
		{"negative above threshold", -8, true},
		{"zero change", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, tx := seededTx(t)
			agg := pipeline.NewWeightAggregator(0.5, zap.NewNop())

			audited, err := agg.Apply(context.Background(), tx, "meal-1", reading("protein", 100, tc.change, baseTime))
			require.NoError(t, err)
			assert.Equal(t, tc.audit, audited)

			want := 0
			if tc.audit {
				want = 1
			}
			assert.Equal(t, want, store.auditCount())
		})
	}
}

func TestWeightAggregator_AccumulatesTotalChange(t *testing.T) {
	store, tx := seededTx(t)
	agg := pipeline.NewWeightAggregator(0.5, zap.NewNop())
	ctx := context.Background()

	_, err := agg.Apply(ctx, tx, "meal-1", reading("vegetable", 95, -5, baseTime))
	require.NoError(t, err)
	_, err = agg.Apply(ctx, tx, "meal-1", reading("vegetable", 92, -3, baseTime.Add(time.Minute)))
	require.NoError(t, err)
	_, err = agg.Apply(ctx, tx, "meal-1", reading("vegetable", 92.3, 0.3, baseTime.Add(2*time.Minute)))
	require.NoError(t, err)

	snap, ok := store.section("meal-1", "vegetable")
	require.True(t, ok)
	assert.Equal(t, 92.3, snap.CurrentWeight)
	assert.Equal(t, baseTime.Add(2*time.Minute), snap.LastUpdate)
	assert.InDelta(t, -7.7, snap.TotalChange, 1e-9)
	// 只有前两条超过 0.5
	assert.Equal(t, 2, store.auditCount())
}

func TestWeightAggregator_UnknownMealPropagates(t *testing.T) {
	_, tx := seededTx(t)
	agg := pipeline.NewWeightAggregator(0.5, zap.NewNop())

	_, err := agg.Apply(context.Background(), tx, "missing", reading("protein", 10, -1, baseTime))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrMealNotFound))
}

func TestWeightAggregator_AuditFailure(t *testing.T) {
	store, tx := seededTx(t)
	store.failOn["InsertPlateReading"] = errors.New("disk full")
	agg := pipeline.NewWeightAggregator(0.5, zap.NewNop())

	_, err := agg.Apply(context.Background(), tx, "meal-1", reading("protein", 10, -1, baseTime))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist plate reading")
}
