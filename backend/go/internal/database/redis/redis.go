package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ragcompare/backend/go/internal/config"
)

// Options 根据配置构造 go-redis 的连接参数。
func Options(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:        cfg.Address(),
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: 5 * time.Second,
	}
}

// NewClient 创建 Redis 客户端并使用 Ping 检查连接。
//
// 参数:
//
//	ctx: 控制连接检查的上下文。
//	cfg: Redis 连接配置。
//
// 返回值:
//
//	*redis.Client: 已连通的客户端。
//	error: 无法连接时返回错误，此时客户端已关闭。
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(Options(cfg))
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("无法连接到 Redis %s: %w", cfg.Address(), err)
	}
	return rdb, nil
}

// HealthCheck 检查 Redis 连接的健康状况。
func HealthCheck(ctx context.Context, client redis.UniversalClient) error {
	if client == nil {
		return fmt.Errorf("Redis 客户端未初始化")
	}
	return client.Ping(ctx).Err()
}
