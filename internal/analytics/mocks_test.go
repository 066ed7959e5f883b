package analytics_test

import (
	"context"
	"sync"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/analytics"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"github.com/stretchr/testify/mock"
)

// fakeMarkStore 仅用于单元测试（内存水位线 + 可控时钟）
type fakeMarkStore struct {
	mu    sync.Mutex
	marks map[string]int64
	now   time.Time
	err   error
}

func newFakeMarkStore() *fakeMarkStore {
	return &fakeMarkStore{
		marks: make(map[string]int64),
	}
}

func (f *fakeMarkStore) setNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func (f *fakeMarkStore) GetMark(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}
	v, ok := f.marks[key]
	if !ok {
		return 0, analytics.ErrNoMark
	}
	return v, nil
}

func (f *fakeMarkStore) AdvanceMark(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}
	if cur, ok := f.marks[key]; ok && cur >= value {
		return cur, nil
	}
	f.marks[key] = value
	return value, nil
}

func (f *fakeMarkStore) Now(ctx context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return time.Time{}, f.err
	}
	if f.now.IsZero() {
		return time.Now(), nil
	}
	return f.now, nil
}

// MockNutritionStore 是 NutritionStore 的 mock 实现
type MockNutritionStore struct {
	mock.Mock
}

func (m *MockNutritionStore) Aggregate(ctx context.Context, childID string, day time.Time, loc *time.Location) (*models.DailyNutrition, error) {
	args := m.Called(ctx, childID, day, loc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DailyNutrition), args.Error(1)
}

func (m *MockNutritionStore) Upsert(ctx context.Context, n *models.DailyNutrition) (bool, error) {
	args := m.Called(ctx, n)
	return args.Bool(0), args.Error(1)
}

// MockTriggerRepository 同时实现 PublishMarker / ProcessedMarker / UnpublishedLister
type MockTriggerRepository struct {
	mock.Mock
}

func (m *MockTriggerRepository) MarkPublished(ctx context.Context, triggerID string, at time.Time) error {
	args := m.Called(ctx, triggerID, at)
	return args.Error(0)
}

func (m *MockTriggerRepository) MarkProcessed(ctx context.Context, triggerID string, at time.Time) error {
	args := m.Called(ctx, triggerID, at)
	return args.Error(0)
}

func (m *MockTriggerRepository) ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]models.AnalyticsTrigger, error) {
	args := m.Called(ctx, createdBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AnalyticsTrigger), args.Error(1)
}

// recordingPublisher 记录投递的触发记录，failIDs 中的记录投递失败
type recordingPublisher struct {
	mu        sync.Mutex
	failIDs   map[string]error
	published []string
}

func (p *recordingPublisher) Publish(ctx context.Context, trigger *models.AnalyticsTrigger) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failIDs[trigger.TriggerID]; err != nil {
		return err
	}
	p.published = append(p.published, trigger.TriggerID)
	return nil
}
