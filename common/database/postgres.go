package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/common/config"

	_ "github.com/lib/pq"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// NewPostgresDB 创建PostgreSQL连接池；数据库尚未就绪时按指数退避重试
func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := pingWithRetry(context.Background(), db, connectAttempts, connectBackoff); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// pingWithRetry 最多尝试 attempts 次，每次失败后等待时间翻倍
func pingWithRetry(ctx context.Context, db *sql.DB, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("failed to ping database after %d attempts: %w", attempts, err)
}
