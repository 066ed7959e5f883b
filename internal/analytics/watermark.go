package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultWatermarkTTL 水位线保留时长
const DefaultWatermarkTTL = 7 * 24 * time.Hour

// 流消息 ID 只精确到毫秒
const streamIDResolution = time.Millisecond

// Watermark 记录每个幂等键最近一次重算开始时的 Redis 时间。
// 触发记录在事务提交后才入流，入流时间早于某次重算开始，说明该次重算已读到它
type Watermark struct {
	store MarkStore
	ttl   time.Duration
}

// NewWatermark 创建水位线；ttl <= 0 时使用 DefaultWatermarkTTL
func NewWatermark(store MarkStore, ttl time.Duration) *Watermark {
	if ttl <= 0 {
		ttl = DefaultWatermarkTTL
	}
	return &Watermark{store: store, ttl: ttl}
}

func watermarkKey(idempotencyKey string) string {
	return fmt.Sprintf("analytics:watermark:%s", idempotencyKey)
}

// Now 当前存储端时间，作为重算开始时间
func (w *Watermark) Now(ctx context.Context) (time.Time, error) {
	now, err := w.store.Now(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark clock: %w", err)
	}
	return now, nil
}

// Load 读取水位线，不存在时返回零值
func (w *Watermark) Load(ctx context.Context, idempotencyKey string) (time.Time, error) {
	micros, err := w.store.GetMark(ctx, watermarkKey(idempotencyKey))
	if err != nil {
		if errors.Is(err, ErrNoMark) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get watermark: %w", err)
	}
	return time.UnixMicro(micros).UTC(), nil
}

// Covered 入流时间严格早于水位线时返回 true；enqueuedAt 未知时总是返回 false
func (w *Watermark) Covered(ctx context.Context, idempotencyKey string, enqueuedAt time.Time) (bool, error) {
	if enqueuedAt.IsZero() {
		return false, nil
	}
	mark, err := w.Load(ctx, idempotencyKey)
	if err != nil {
		return false, err
	}
	if mark.IsZero() {
		return false, nil
	}
	return !enqueuedAt.Add(streamIDResolution).After(mark), nil
}

// Advance 把水位线推进到 startedAt（只前进不后退）
func (w *Watermark) Advance(ctx context.Context, idempotencyKey string, startedAt time.Time) error {
	if _, err := w.store.AdvanceMark(ctx, watermarkKey(idempotencyKey), startedAt.UnixMicro(), w.ttl); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}
