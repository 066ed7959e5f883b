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
	"github.com/KeyResolver-0924/Plateful-sub000/internal/pipeline"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ProcessorService 读数流水线服务
type ProcessorService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	consumer    *consumer.ReadingConsumer
	http        *httpserver.Server
	running     sync.WaitGroup
}

// NewProcessor 按配置组装流水线处理器
func NewProcessor(cfg *config.Config, db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *pipeline.Processor {
	triggerRepo := repository.NewAnalyticsTriggerRepository(db, logger)
	publisher := analytics.NewPublisher(redisClient, cfg.Streams.Triggers, triggerRepo, logger)

	return pipeline.NewProcessor(repository.NewPlateStore(db, logger), publisher, pipeline.Options{
		Thresholds: pipeline.Thresholds{
			SignificantChange:   cfg.Processor.SignificantChange,
			ItemConsumed:        cfg.Processor.ItemThreshold,
			MealCompletionRatio: cfg.Processor.CompletionRatio,
		},
		DedupReadings: cfg.Processor.DedupEnabled,
		Location:      cfg.Analytics.Location,
	}, logger)
}

// NewProcessorService 创建流水线服务
func NewProcessorService(cfg *config.Config, logger *zap.Logger) (*ProcessorService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := connectRedis(redisClient); err != nil {
		closeDB(db, logger)
		return nil, err
	}

	processor := NewProcessor(cfg, db, redisClient, logger)
	readingConsumer := consumer.NewReadingConsumer(cfg, redisClient, processor, logger)

	router := httpserver.NewRouter("plateful-processor", map[string]httpserver.Check{
		"redis":    redisCheck(redisClient),
		"database": databaseCheck(db),
	}, logger)

	return &ProcessorService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		consumer:    readingConsumer,
		http:        httpserver.NewServer(cfg.HTTP.Addr, router, logger),
	}, nil
}

// Start 启动服务，阻塞到 ctx 结束
func (s *ProcessorService) Start(ctx context.Context) error {
	s.running.Add(1)
	defer s.running.Done()

	s.logger.Info("Starting processor service components")
	startHTTP(s.http, s.logger)

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reading consumer: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *ProcessorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping processor service")

	if err := s.http.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	waitStopped(ctx, &s.running, s.logger)
	closeRedis(s.redisClient, s.logger)
	closeDB(s.db, s.logger)

	s.logger.Info("Processor service stopped")
	return nil
}
