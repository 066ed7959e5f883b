package pipeline_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/pipeline"
)

// memStore 仅用于单元测试：整库快照式事务，提交时替换，出错时丢弃
type memStore struct {
	mu     sync.Mutex
	state  *memState
	failOn map[string]error
}

type auditRow struct {
	MealID  string
	Reading models.PlateReading
}

type memState struct {
	meals     map[string]models.Meal
	sections  map[string]map[string]models.SectionSnapshot
	items     map[string]models.MealFoodItem
	readings  []auditRow
	processed map[string]string
	triggers  []models.AnalyticsTrigger
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			meals:     make(map[string]models.Meal),
			sections:  make(map[string]map[string]models.SectionSnapshot),
			items:     make(map[string]models.MealFoodItem),
			processed: make(map[string]string),
		},
		failOn: make(map[string]error),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		meals:     make(map[string]models.Meal, len(s.meals)),
		sections:  make(map[string]map[string]models.SectionSnapshot, len(s.sections)),
		items:     make(map[string]models.MealFoodItem, len(s.items)),
		readings:  append([]auditRow(nil), s.readings...),
		processed: make(map[string]string, len(s.processed)),
		triggers:  append([]models.AnalyticsTrigger(nil), s.triggers...),
	}
	for k, v := range s.meals {
		c.meals[k] = v
	}
	for k, v := range s.sections {
		inner := make(map[string]models.SectionSnapshot, len(v))
		for sk, sv := range v {
			inner[sk] = sv
		}
		c.sections[k] = inner
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.processed {
		c.processed[k] = v
	}
	return c
}

func (s *memStore) addMeal(meal models.Meal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.meals[meal.MealID] = meal
}

func (s *memStore) addItem(item models.MealFoodItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.items[item.MealFoodItemID] = item
}

func (s *memStore) meal(id string) models.Meal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.meals[id]
}

func (s *memStore) item(id string) models.MealFoodItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.items[id]
}

func (s *memStore) section(mealID, section string) (models.SectionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.state.sections[mealID][section]
	return snap, ok
}

func (s *memStore) auditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.readings)
}

func (s *memStore) triggers() []models.AnalyticsTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AnalyticsTrigger(nil), s.state.triggers...)
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx pipeline.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memTx{state: work, failOn: s.failOn}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type memTx struct {
	state  *memState
	failOn map[string]error
}

func (t *memTx) fail(op string) error {
	return t.failOn[op]
}

func (t *memTx) MarkReadingProcessed(_ context.Context, readingID, mealID string, _ time.Time) (bool, error) {
	if err := t.fail("MarkReadingProcessed"); err != nil {
		return false, err
	}
	if _, ok := t.state.processed[readingID]; ok {
		return false, nil
	}
	t.state.processed[readingID] = mealID
	return true, nil
}

func (t *memTx) LockMeal(_ context.Context, mealID string) (*models.Meal, error) {
	if err := t.fail("LockMeal"); err != nil {
		return nil, err
	}
	meal, ok := t.state.meals[mealID]
	if !ok {
		return nil, pipeline.ErrMealNotFound
	}
	return &meal, nil
}

func (t *memTx) UpsertSection(_ context.Context, mealID string, r models.PlateReading) error {
	if err := t.fail("UpsertSection"); err != nil {
		return err
	}
	if _, ok := t.state.meals[mealID]; !ok {
		return pipeline.ErrMealNotFound
	}
	if t.state.sections[mealID] == nil {
		t.state.sections[mealID] = make(map[string]models.SectionSnapshot)
	}
	snap := t.state.sections[mealID][r.PlateSection]
	snap.CurrentWeight = r.Weight
	snap.LastUpdate = r.Timestamp
	snap.TotalChange += r.Change
	t.state.sections[mealID][r.PlateSection] = snap
	return nil
}

func (t *memTx) InsertPlateReading(_ context.Context, mealID string, r models.PlateReading) error {
	if err := t.fail("InsertPlateReading"); err != nil {
		return err
	}
	t.state.readings = append(t.state.readings, auditRow{MealID: mealID, Reading: r})
	return nil
}

func (t *memTx) LockFoodItemBySection(_ context.Context, mealID, section string) (*models.MealFoodItem, error) {
	if err := t.fail("LockFoodItemBySection"); err != nil {
		return nil, err
	}
	for _, item := range t.state.items {
		if item.MealID == mealID && item.PlateSection == section {
			found := item
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) UpdateFoodItemPortion(_ context.Context, item *models.MealFoodItem) error {
	if err := t.fail("UpdateFoodItemPortion"); err != nil {
		return err
	}
	t.state.items[item.MealFoodItemID] = *item
	return nil
}

func (t *memTx) ListFoodItems(_ context.Context, mealID string) ([]models.MealFoodItem, error) {
	if err := t.fail("ListFoodItems"); err != nil {
		return nil, err
	}
	var items []models.MealFoodItem
	for _, item := range t.state.items {
		if item.MealID == mealID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].MealFoodItemID < items[j].MealFoodItemID })
	return items, nil
}

func (t *memTx) MarkMealCompleted(_ context.Context, mealID string, endTime time.Time, pct float64) error {
	if err := t.fail("MarkMealCompleted"); err != nil {
		return err
	}
	meal := t.state.meals[mealID]
	meal.Status = models.MealStatusCompleted
	meal.ActualEndTime = &endTime
	meal.CompletionPercentage = &pct
	t.state.meals[mealID] = meal
	return nil
}

func (t *memTx) InsertAnalyticsTrigger(_ context.Context, trigger *models.AnalyticsTrigger) error {
	if err := t.fail("InsertAnalyticsTrigger"); err != nil {
		return err
	}
	t.state.triggers = append(t.state.triggers, *trigger)
	return nil
}

// fakePublisher 记录投递的触发记录
type fakePublisher struct {
	mu        sync.Mutex
	err       error
	published []models.AnalyticsTrigger
}

func (f *fakePublisher) Publish(_ context.Context, trigger *models.AnalyticsTrigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, *trigger)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}
