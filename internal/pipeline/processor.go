package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"go.uber.org/zap"
)

// Result 单条读数的处理结果
type Result struct {
	MealID    string
	ReadingID string
	// Duplicate 同一 reading_id 已处理过，本次未做任何写入
	Duplicate      bool
	AuditPersisted bool
	// FoodItem 本次更新的食物；分区没有食物时为 nil
	FoodItem   *models.MealFoodItem
	Evaluation Evaluation
	// Trigger 本次写入的分析触发记录；未完成时为 nil
	Trigger *models.AnalyticsTrigger
	// Published 触发记录已在提交后投递
	Published bool
}

// Options 处理器可选项
type Options struct {
	Thresholds Thresholds
	// DedupReadings 按 reading_id 忽略重复投递
	DedupReadings bool
	Location      *time.Location
	Now           func() time.Time
}

// Processor 餐盘读数处理器
type Processor struct {
	store      Store
	publisher  Publisher
	aggregator *WeightAggregator
	consumer   *ConsumptionUpdater
	evaluator  *CompletionEvaluator
	emitter    *TriggerEmitter
	dedup      bool
	now        func() time.Time
	logger     *zap.Logger
}

// NewProcessor 创建处理器；publisher 可为 nil（仅写 outbox，由中继投递）
func NewProcessor(store Store, publisher Publisher, opts Options, logger *zap.Logger) *Processor {
	th := opts.Thresholds
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		store:      store,
		publisher:  publisher,
		aggregator: NewWeightAggregator(th.SignificantChange, logger),
		consumer:   NewConsumptionUpdater(logger),
		evaluator:  NewCompletionEvaluator(th.ItemConsumed, th.MealCompletionRatio, logger),
		emitter:    NewTriggerEmitter(opts.Location, logger),
		dedup:      opts.DedupReadings,
		now:        now,
		logger:     logger,
	}
}

// Validate 检查读数事件字段
func Validate(event models.ReadingEvent) error {
	switch {
	case strings.TrimSpace(event.MealID) == "":
		return fmt.Errorf("%w: missing meal_id", ErrInvalidReading)
	case strings.TrimSpace(event.Reading.PlateSection) == "":
		return fmt.Errorf("%w: missing plateSection", ErrInvalidReading)
	case math.IsNaN(event.Reading.Weight) || math.IsInf(event.Reading.Weight, 0):
		return fmt.Errorf("%w: weight is not finite", ErrInvalidReading)
	case math.IsNaN(event.Reading.Change) || math.IsInf(event.Reading.Change, 0):
		return fmt.Errorf("%w: change is not finite", ErrInvalidReading)
	case event.Reading.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	}
	return nil
}

// Process 在一个事务内依次执行：聚合 → 消耗更新 → 完成判定 → 触发记录，提交后投递触发记录。
// 任一步骤出错则回滚并返回错误，后续步骤不再执行。
func (p *Processor) Process(ctx context.Context, event models.ReadingEvent) (*Result, error) {
	if err := Validate(event); err != nil {
		return nil, err
	}

	reading := event.Reading
	result := &Result{MealID: event.MealID, ReadingID: reading.ReadingID}
	now := p.now()

	err := p.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		// 每次重试都从干净的结果开始
		*result = Result{MealID: event.MealID, ReadingID: reading.ReadingID}

		if p.dedup && reading.ReadingID != "" {
			fresh, err := tx.MarkReadingProcessed(ctx, reading.ReadingID, event.MealID, now)
			if err != nil {
				return fmt.Errorf("failed to record reading %s: %w", reading.ReadingID, err)
			}
			if !fresh {
				result.Duplicate = true
				return nil
			}
		}

		meal, err := tx.LockMeal(ctx, event.MealID)
		if err != nil {
			return err
		}

		audit, err := p.aggregator.Apply(ctx, tx, meal.MealID, reading)
		if err != nil {
			return err
		}
		result.AuditPersisted = audit

		item, err := p.consumer.Apply(ctx, tx, meal.MealID, reading, now)
		if err != nil {
			return err
		}
		result.FoodItem = item

		eval, err := p.evaluator.Evaluate(ctx, tx, meal, now)
		if err != nil {
			return err
		}
		result.Evaluation = eval

		if eval.Completed {
			trigger, err := p.emitter.Emit(ctx, tx, meal, now)
			if err != nil {
				return err
			}
			result.Trigger = trigger
		}
		return nil
	})
	if err != nil {
		p.logger.Error("Failed to process plate reading",
			zap.String("meal_id", event.MealID),
			zap.String("reading_id", reading.ReadingID),
			zap.String("plate_section", reading.PlateSection),
			zap.Error(err),
		)
		return nil, err
	}

	if result.Duplicate {
		p.logger.Info("Duplicate plate reading ignored",
			zap.String("meal_id", event.MealID),
			zap.String("reading_id", reading.ReadingID),
		)
		return result, nil
	}

	p.publish(ctx, result)
	return result, nil
}

// Reevaluate 不带新读数，重新对餐次做完成判定；达标时同样写入并投递触发记录
func (p *Processor) Reevaluate(ctx context.Context, mealID string) (*Result, error) {
	result := &Result{MealID: mealID}
	now := p.now()

	err := p.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		*result = Result{MealID: mealID}

		meal, err := tx.LockMeal(ctx, mealID)
		if err != nil {
			return err
		}

		eval, err := p.evaluator.Evaluate(ctx, tx, meal, now)
		if err != nil {
			return err
		}
		result.Evaluation = eval

		if eval.Completed {
			trigger, err := p.emitter.Emit(ctx, tx, meal, now)
			if err != nil {
				return err
			}
			result.Trigger = trigger
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to re-evaluate meal %s: %w", mealID, err)
	}

	p.publish(ctx, result)
	return result, nil
}

func (p *Processor) publish(ctx context.Context, result *Result) {
	if result.Trigger == nil || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, result.Trigger); err != nil {
		// outbox 行已提交，由中继重新投递
		p.logger.Warn("Failed to publish analytics trigger, left for relay",
			zap.String("trigger_id", result.Trigger.TriggerID),
			zap.String("meal_id", result.MealID),
			zap.Error(err),
		)
		return
	}
	result.Published = true
}
