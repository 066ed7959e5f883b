// Package service 组装各进程的长期运行服务
package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	rediscommon "github.com/KeyResolver-0924/Plateful-sub000/common/redis"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/httpserver"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func redisCheck(client *redis.Client) httpserver.Check {
	return func(ctx context.Context) error {
		return rediscommon.Ping(ctx, client)
	}
}

func databaseCheck(db *sql.DB) httpserver.Check {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// startHTTP 在后台启动诊断 HTTP 服务
func startHTTP(server *httpserver.Server, logger *zap.Logger) {
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("HTTP server exited", zap.Error(err))
		}
	}()
}

// waitStopped 等待 Start 中的消费循环退出，最多等到 ctx 结束
func waitStopped(ctx context.Context, running *sync.WaitGroup, logger *zap.Logger) {
	done := make(chan struct{})
	go func() {
		running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Timed out waiting for consumers to stop", zap.Error(ctx.Err()))
	}
}

func connectRedis(client *redis.Client) error {
	if err := rediscommon.Ping(context.Background(), client); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}

func closeRedis(client *redis.Client, logger *zap.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Error("Error closing Redis client", zap.Error(err))
	}
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Error("Error closing database connection", zap.Error(err))
	}
}
