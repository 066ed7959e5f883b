package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/common/config"

	"github.com/go-redis/redis/v8"
)

// pingTimeout 单次连通性检查的上限
const pingTimeout = 3 * time.Second

// NewRedisClient 创建Redis客户端（不建立连接，首个命令时拨号）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}

// Ping 测试Redis连接；ctx 没有截止时间时使用 pingTimeout
func Ping(ctx context.Context, client *redis.Client) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pingTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", client.Options().Addr, err)
	}
	return nil
}
