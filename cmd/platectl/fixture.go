package main

import (
	"context"
	"fmt"
	"io"
	"time"

	rediscommon "github.com/KeyResolver-0924/Plateful-sub000/common/redis"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Fixture 种子数据 / 回放文件
type Fixture struct {
	Foods    []models.Food    `yaml:"foods"`
	Meals    []MealFixture    `yaml:"meals"`
	Readings []ReadingFixture `yaml:"readings"`
}

// MealFixture 餐次及其分区食物
type MealFixture struct {
	models.Meal `yaml:",inline"`
	FoodItems   []models.MealFoodItem `yaml:"foodItems"`
}

// ReadingFixture 一条待回放的读数
type ReadingFixture struct {
	MealID       string    `yaml:"mealId"`
	DeviceID     string    `yaml:"deviceId"`
	ReadingID    string    `yaml:"readingId"`
	PlateSection string    `yaml:"plateSection"`
	Weight       float64   `yaml:"weight"`
	Change       float64   `yaml:"change"`
	Timestamp    time.Time `yaml:"timestamp"`
}

// LoadFixture 解析并校验 YAML
func LoadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate 检查必填字段，并把食物归属到所在餐次
func (f *Fixture) Validate() error {
	for i, food := range f.Foods {
		if food.FoodID == "" {
			return fmt.Errorf("foods[%d]: missing id", i)
		}
	}
	for i := range f.Meals {
		m := &f.Meals[i]
		if m.MealID == "" || m.ChildID == "" {
			return fmt.Errorf("meals[%d]: mealId and childId are required", i)
		}
		if m.ScheduledTime.IsZero() {
			return fmt.Errorf("meal %s: missing scheduledTime", m.MealID)
		}
		for j := range m.FoodItems {
			item := &m.FoodItems[j]
			if item.MealFoodItemID == "" || item.PlateSection == "" || item.FoodID == "" {
				return fmt.Errorf("meal %s foodItems[%d]: id, plateSection and foodId are required", m.MealID, j)
			}
			if item.Portion.InitialWeight < 0 {
				return fmt.Errorf("meal %s item %s: negative initialWeight", m.MealID, item.MealFoodItemID)
			}
			item.MealID = m.MealID
		}
	}
	for i, r := range f.Readings {
		if r.MealID == "" || r.PlateSection == "" {
			return fmt.Errorf("readings[%d]: mealId and plateSection are required", i)
		}
	}
	return nil
}

// Events 把读数转换为流事件；缺省的 readingId / timestamp 在此补齐
func (f *Fixture) Events(now time.Time) []models.ReadingEvent {
	events := make([]models.ReadingEvent, 0, len(f.Readings))
	for _, r := range f.Readings {
		id := r.ReadingID
		if id == "" {
			id = uuid.NewString()
		}
		ts := r.Timestamp
		if ts.IsZero() {
			ts = now
		}
		events = append(events, models.ReadingEvent{
			MealID:   r.MealID,
			DeviceID: r.DeviceID,
			Reading: models.PlateReading{
				ReadingID:    id,
				PlateSection: r.PlateSection,
				Weight:       r.Weight,
				Change:       r.Change,
				Timestamp:    ts.UTC(),
			},
			ReceivedAt: now.UnixMilli(),
		})
	}
	return events
}

// Replay 依次把读数写入读数流，返回写入的 stream ID
func Replay(ctx context.Context, client *redis.Client, stream string, events []models.ReadingEvent) ([]string, error) {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		id, err := rediscommon.PublishJSONToStream(ctx, client, stream, ev)
		if err != nil {
			return ids, fmt.Errorf("failed to publish reading %s: %w", ev.Reading.ReadingID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
