package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	logpkg "github.com/KeyResolver-0924/Plateful-sub000/common/logger"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/config"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "plateful-ingest")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting plateful-ingest service",
		zap.String("topic", cfg.Ingest.Topic),
		zap.String("broker", cfg.MQTT.Broker),
		zap.String("output_stream", cfg.Streams.Readings),
		zap.Float64("rate_per_second", cfg.Ingest.RatePerSecond),
	)

	// 创建服务
	ingestService, err := service.NewIngestService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create ingest service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 在 goroutine 中启动服务
	go func() {
		if err := ingestService.Start(ctx); err != nil {
			logger.Fatal("Failed to start ingest service", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := ingestService.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
