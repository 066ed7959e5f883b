package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// UnpublishedLister 列出未投递的 outbox 行
type UnpublishedLister interface {
	ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]models.AnalyticsTrigger, error)
}

// TriggerPublisher 投递一条触发记录
type TriggerPublisher interface {
	Publish(ctx context.Context, trigger *models.AnalyticsTrigger) error
}

// RelayConfig 中继参数
type RelayConfig struct {
	Schedule  string
	Grace     time.Duration
	BatchSize int
}

// Relay 定时把提交后未能投递的触发记录重新投递
type Relay struct {
	lister    UnpublishedLister
	publisher TriggerPublisher
	cfg       RelayConfig
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running sync.Mutex
}

// NewRelay 创建 outbox 中继
func NewRelay(lister UnpublishedLister, publisher TriggerPublisher, cfg RelayConfig, logger *zap.Logger) *Relay {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		lister:    lister,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// RunOnce 投递一批早于宽限期的未投递记录，返回成功条数
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	// 上一轮未结束时跳过
	if !r.running.TryLock() {
		return 0, nil
	}
	defer r.running.Unlock()

	triggers, err := r.lister.ListUnpublished(ctx, r.now().Add(-r.cfg.Grace), r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished triggers: %w", err)
	}

	published := 0
	for i := range triggers {
		if err := r.publisher.Publish(ctx, &triggers[i]); err != nil {
			r.logger.Warn("Failed to relay analytics trigger",
				zap.String("trigger_id", triggers[i].TriggerID),
				zap.Error(err),
			)
			continue
		}
		published++
	}

	if len(triggers) > 0 {
		r.logger.Info("Outbox relay run",
			zap.Int("pending", len(triggers)),
			zap.Int("published", published),
		)
	}
	return published, nil
}

// Start 按计划周期运行中继
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("relay already started")
	}

	c := cron.New()
	_, err := c.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Outbox relay failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid relay schedule %q: %w", r.cfg.Schedule, err)
	}
	c.Start()
	r.cron = c

	r.logger.Info("Outbox relay started",
		zap.String("schedule", r.cfg.Schedule),
		zap.Duration("grace", r.cfg.Grace),
	)
	return nil
}

// Stop 停止调度并等待正在运行的一轮结束
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
