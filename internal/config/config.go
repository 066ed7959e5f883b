package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/common/config"
)

// Config 餐盘读数流水线配置（ingest / processor / analytics 三个进程共用）
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	HTTP     config.HTTPConfig

	// Redis Streams 名称
	Streams struct {
		Readings   string // 读数流，如 "plate:readings:stream"
		Triggers   string // 分析触发流，如 "analytics:triggers"
		DeadLetter string // 死信流，如 "plate:readings:dead"
	}

	// MQTT 接入
	Ingest struct {
		Topic         string  // 订阅主题，默认 "meals/+/plate-readings"
		RatePerSecond float64 // 每个餐次每秒允许的读数
		Burst         int
		LimiterIdle   time.Duration // 空闲多久后回收限流器
	}

	// 读数处理
	Processor struct {
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64
		Block         time.Duration
		ClaimMinIdle  time.Duration // 待确认消息空闲超过该时长后重新认领
		MaxDeliveries int64         // 超过该投递次数转入死信流

		SignificantChange float64 // 审计阈值（克）
		ItemThreshold     float64 // 单个食物视为吃完的百分比
		CompletionRatio   float64 // 餐次完成所需的食物比例（百分比）
		DedupEnabled      bool    // 按 reading_id 去重
	}

	// 营养分析
	Analytics struct {
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64
		Block         time.Duration
		Timezone      string
		Location      *time.Location
		RelaySchedule string
		RelayGrace    time.Duration
		WatermarkTTL  time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "plateful"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "plateful-ingest"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.HTTP.LoadFromEnv("HTTP")

	cfg.Streams.Readings = getEnv("READING_STREAM", "plate:readings:stream")
	cfg.Streams.Triggers = getEnv("TRIGGER_STREAM", "analytics:triggers")
	cfg.Streams.DeadLetter = getEnv("DEAD_LETTER_STREAM", "plate:readings:dead")

	cfg.Ingest.Topic = getEnv("INGEST_TOPIC", "meals/+/plate-readings")
	cfg.Ingest.RatePerSecond = getEnvFloat("INGEST_RATE_PER_SECOND", 5)
	cfg.Ingest.Burst = getEnvInt("INGEST_BURST", 10)
	cfg.Ingest.LimiterIdle = getEnvDuration("INGEST_LIMITER_IDLE", 10*time.Minute)

	cfg.Processor.ConsumerGroup = getEnv("CONSUMER_GROUP", "plate-processor-group")
	cfg.Processor.ConsumerName = getEnv("CONSUMER_NAME", defaultConsumerName("plate-processor"))
	cfg.Processor.BatchSize = int64(getEnvInt("CONSUMER_BATCH_SIZE", 10))
	cfg.Processor.Block = getEnvDuration("CONSUMER_BLOCK", 2*time.Second)
	cfg.Processor.ClaimMinIdle = getEnvDuration("CONSUMER_CLAIM_MIN_IDLE", time.Minute)
	cfg.Processor.MaxDeliveries = int64(getEnvInt("CONSUMER_MAX_DELIVERIES", 5))
	cfg.Processor.SignificantChange = getEnvFloat("PLATE_SIGNIFICANT_CHANGE", 0.5)
	cfg.Processor.ItemThreshold = getEnvFloat("PLATE_ITEM_THRESHOLD", 80)
	cfg.Processor.CompletionRatio = getEnvFloat("PLATE_COMPLETION_RATIO", 80)
	cfg.Processor.DedupEnabled = getEnvBool("PLATE_DEDUP_ENABLED", true)

	cfg.Analytics.ConsumerGroup = getEnv("ANALYTICS_CONSUMER_GROUP", "nutrition-analytics-group")
	cfg.Analytics.ConsumerName = getEnv("ANALYTICS_CONSUMER_NAME", defaultConsumerName("nutrition-analytics"))
	cfg.Analytics.BatchSize = int64(getEnvInt("ANALYTICS_BATCH_SIZE", 10))
	cfg.Analytics.Block = getEnvDuration("ANALYTICS_BLOCK", 2*time.Second)
	cfg.Analytics.Timezone = getEnv("ANALYTICS_TIMEZONE", "UTC")
	cfg.Analytics.RelaySchedule = getEnv("ANALYTICS_RELAY_SCHEDULE", "@every 1m")
	cfg.Analytics.RelayGrace = getEnvDuration("ANALYTICS_RELAY_GRACE", 30*time.Second)
	cfg.Analytics.WatermarkTTL = getEnvDuration("ANALYTICS_WATERMARK_TTL", 7*24*time.Hour)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	loc, err := time.LoadLocation(cfg.Analytics.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ANALYTICS_TIMEZONE %q: %w", cfg.Analytics.Timezone, err)
	}
	cfg.Analytics.Location = loc

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	p := c.Processor
	if p.SignificantChange < 0 {
		return fmt.Errorf("PLATE_SIGNIFICANT_CHANGE must not be negative, got %v", p.SignificantChange)
	}
	if p.ItemThreshold <= 0 || p.ItemThreshold > 100 {
		return fmt.Errorf("PLATE_ITEM_THRESHOLD must be in (0, 100], got %v", p.ItemThreshold)
	}
	if p.CompletionRatio <= 0 || p.CompletionRatio > 100 {
		return fmt.Errorf("PLATE_COMPLETION_RATIO must be in (0, 100], got %v", p.CompletionRatio)
	}
	if p.MaxDeliveries < 1 {
		return fmt.Errorf("CONSUMER_MAX_DELIVERIES must be positive, got %d", p.MaxDeliveries)
	}
	if c.Ingest.RatePerSecond <= 0 || c.Ingest.Burst <= 0 {
		return fmt.Errorf("INGEST_RATE_PER_SECOND and INGEST_BURST must be positive")
	}
	return nil
}

func defaultConsumerName(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return prefix + "-1"
	}
	return prefix + "-" + host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}
