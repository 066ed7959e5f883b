package service

import (
	"context"
	"fmt"
	"sync"

	mqttcommon "github.com/KeyResolver-0924/Plateful-sub000/common/mqtt"
	rediscommon "github.com/KeyResolver-0924/Plateful-sub000/common/redis"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/config"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/consumer"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/httpserver"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// IngestService 餐盘读数接入服务（MQTT → Redis Streams）
type IngestService struct {
	config      *config.Config
	logger      *zap.Logger
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	consumer    *consumer.MQTTConsumer
	http        *httpserver.Server
	running     sync.WaitGroup
}

// NewIngestService 创建接入服务
func NewIngestService(cfg *config.Config, logger *zap.Logger) (*IngestService, error) {
	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := connectRedis(redisClient); err != nil {
		return nil, err
	}

	// 初始化MQTT客户端
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		closeRedis(redisClient, logger)
		return nil, fmt.Errorf("failed to create MQTT client: %w", err)
	}

	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, redisClient, logger)

	router := httpserver.NewRouter("plateful-ingest", map[string]httpserver.Check{
		"redis": redisCheck(redisClient),
		"mqtt": func(context.Context) error {
			if !mqttClient.IsConnected() {
				return fmt.Errorf("not connected to %s", cfg.MQTT.Broker)
			}
			return nil
		},
	}, logger)

	return &IngestService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		consumer:    mqttConsumer,
		http:        httpserver.NewServer(cfg.HTTP.Addr, router, logger),
	}, nil
}

// Start 启动服务，阻塞到 ctx 结束
func (s *IngestService) Start(ctx context.Context) error {
	s.running.Add(1)
	defer s.running.Done()

	s.logger.Info("Starting ingest service components")
	startHTTP(s.http, s.logger)

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *IngestService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping ingest service")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Error("Error stopping MQTT consumer", zap.Error(err))
	}
	waitStopped(ctx, &s.running, s.logger)
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := s.http.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	closeRedis(s.redisClient, s.logger)

	s.logger.Info("Ingest service stopped")
	return nil
}
