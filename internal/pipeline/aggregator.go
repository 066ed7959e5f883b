package pipeline

import (
	"context"
	"fmt"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"go.uber.org/zap"
)

// WeightAggregator 把读数折叠进餐次的分区快照
type WeightAggregator struct {
	significantChange float64
	logger            *zap.Logger
}

// NewWeightAggregator 创建分区重量聚合器
func NewWeightAggregator(significantChange float64, logger *zap.Logger) *WeightAggregator {
	return &WeightAggregator{
		significantChange: significantChange,
		logger:            logger,
	}
}

// IsSignificant |change| 是否超过审计阈值（严格大于）
func (a *WeightAggregator) IsSignificant(reading models.PlateReading) bool {
	return reading.AbsChange() > a.significantChange
}

// Apply 设置 currentWeight / lastUpdate，累加 totalChange；显著变化时写入审计读数。
// 返回是否写入了审计读数。
func (a *WeightAggregator) Apply(ctx context.Context, tx SectionWriter, mealID string, reading models.PlateReading) (bool, error) {
	if err := tx.UpsertSection(ctx, mealID, reading); err != nil {
		return false, fmt.Errorf("failed to update plate section %s: %w", reading.PlateSection, err)
	}

	if !a.IsSignificant(reading) {
		a.logger.Debug("Reading below significance threshold, audit skipped",
			zap.String("meal_id", mealID),
			zap.String("plate_section", reading.PlateSection),
			zap.Float64("change", reading.Change),
		)
		return false, nil
	}

	if err := tx.InsertPlateReading(ctx, mealID, reading); err != nil {
		return false, fmt.Errorf("failed to persist plate reading: %w", err)
	}
	return true, nil
}
