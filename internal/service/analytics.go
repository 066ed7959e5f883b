package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/KeyResolver-0924/Plateful-sub000/common/database"
	rediscommon "github.com/KeyResolver-0924/Plateful-sub000/common/redis"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/analytics"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/config"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/consumer"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/httpserver"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AnalyticsService 营养分析服务：触发消费者 + outbox 补投
type AnalyticsService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	consumer    *consumer.TriggerConsumer
	relay       *analytics.Relay
	http        *httpserver.Server
	running     sync.WaitGroup
}

// NewAnalyticsService 创建营养分析服务
func NewAnalyticsService(cfg *config.Config, logger *zap.Logger) (*AnalyticsService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := connectRedis(redisClient); err != nil {
		closeDB(db, logger)
		return nil, err
	}

	triggerRepo := repository.NewAnalyticsTriggerRepository(db, logger)
	nutritionRepo := repository.NewDailyNutritionRepository(db, logger)

	watermark := analytics.NewWatermark(analytics.NewRedisMarkStore(redisClient), cfg.Analytics.WatermarkTTL)
	calculator := analytics.NewNutritionCalculator(nutritionRepo, cfg.Analytics.Location, logger)
	handler := analytics.NewTriggerHandler(watermark, calculator, triggerRepo, logger)

	publisher := analytics.NewPublisher(redisClient, cfg.Streams.Triggers, triggerRepo, logger)
	relay := analytics.NewRelay(triggerRepo, publisher, analytics.RelayConfig{
		Schedule: cfg.Analytics.RelaySchedule,
		Grace:    cfg.Analytics.RelayGrace,
	}, logger)

	router := httpserver.NewRouter("plateful-analytics", map[string]httpserver.Check{
		"redis":    redisCheck(redisClient),
		"database": databaseCheck(db),
	}, logger)

	return &AnalyticsService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		consumer:    consumer.NewTriggerConsumer(cfg, redisClient, handler, logger),
		relay:       relay,
		http:        httpserver.NewServer(cfg.HTTP.Addr, router, logger),
	}, nil
}

// Start 启动服务，阻塞到 ctx 结束
func (s *AnalyticsService) Start(ctx context.Context) error {
	s.running.Add(1)
	defer s.running.Done()

	s.logger.Info("Starting analytics service components")
	startHTTP(s.http, s.logger)

	if err := s.relay.Start(ctx); err != nil {
		return fmt.Errorf("failed to start outbox relay: %w", err)
	}

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start trigger consumer: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *AnalyticsService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping analytics service")

	if err := s.relay.Stop(ctx); err != nil {
		s.logger.Error("Error stopping outbox relay", zap.Error(err))
	}
	if err := s.http.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	waitStopped(ctx, &s.running, s.logger)
	closeRedis(s.redisClient, s.logger)
	closeDB(s.db, s.logger)

	s.logger.Info("Analytics service stopped")
	return nil
}
