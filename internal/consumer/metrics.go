package consumer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息处理统计
	MessagesProcessed int64 // 处理的消息总数
	MessagesSucceeded int64 // 成功处理的消息数
	MessagesFailed    int64 // 处理失败的消息数（保留待重投）
	MessagesSkipped   int64 // 跳过的消息数（重复、限流、水位线已覆盖）
	MessagesDead      int64 // 转入死信流的消息数

	// 错误分类统计
	ErrorsParse        int64 // 解析错误
	ErrorsMealNotFound int64 // 餐次不存在
	ErrorsPipeline     int64 // 流水线 / 重算失败
	ErrorsPublish      int64 // 写入 stream 失败

	// 性能指标
	TotalProcessingTime time.Duration
	LastProcessTime     time.Time

	StartTime time.Time
}

// NewMetrics 创建指标
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:   m.MessagesProcessed,
		MessagesSucceeded:   m.MessagesSucceeded,
		MessagesFailed:      m.MessagesFailed,
		MessagesSkipped:     m.MessagesSkipped,
		MessagesDead:        m.MessagesDead,
		ErrorsParse:         m.ErrorsParse,
		ErrorsMealNotFound:  m.ErrorsMealNotFound,
		ErrorsPipeline:      m.ErrorsPipeline,
		ErrorsPublish:       m.ErrorsPublish,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

// IncrementProcessed 增加处理计数
func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

// IncrementSucceeded 增加成功计数
func (m *Metrics) IncrementSucceeded(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	m.countError(errorType)
}

// IncrementDead 增加死信计数
func (m *Metrics) IncrementDead(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesDead++
	m.countError(errorType)
}

func (m *Metrics) countError(errorType string) {
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "meal_not_found":
		m.ErrorsMealNotFound++
	case "pipeline":
		m.ErrorsPipeline++
	case "publish":
		m.ErrorsPublish++
	}
}

// IncrementSkipped 增加跳过计数
func (m *Metrics) IncrementSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSkipped++
}

// reportMetrics 定期报告指标
func reportMetrics(ctx context.Context, logger *zap.Logger, metrics *Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := metrics.GetSnapshot()
			uptime := time.Since(snapshot.StartTime)

			var avgProcessingTime time.Duration
			if snapshot.MessagesSucceeded > 0 {
				avgProcessingTime = snapshot.TotalProcessingTime / time.Duration(snapshot.MessagesSucceeded)
			}

			successRate := float64(0)
			if snapshot.MessagesProcessed > 0 {
				successRate = float64(snapshot.MessagesSucceeded) / float64(snapshot.MessagesProcessed) * 100
			}

			logger.Info("Metrics report",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("messages_skipped", snapshot.MessagesSkipped),
				zap.Int64("messages_dead", snapshot.MessagesDead),
				zap.Float64("success_rate", successRate),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_meal_not_found", snapshot.ErrorsMealNotFound),
				zap.Int64("errors_pipeline", snapshot.ErrorsPipeline),
				zap.Int64("errors_publish", snapshot.ErrorsPublish),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", uptime),
			)
		}
	}
}
