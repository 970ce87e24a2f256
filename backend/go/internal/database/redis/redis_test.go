package redis

import (
	"context"
	"testing"
	"time"

	"ragcompare/backend/go/internal/config"
)

func TestOptionsFromConfig(t *testing.T) {
	opts := Options(config.RedisConfig{Username: "default", Password: "secret", Host: "redis.local", Port: 6380, DB: 2})
	if opts.Addr != "redis.local:6380" {
		t.Errorf("unexpected addr %q", opts.Addr)
	}
	if opts.Username != "default" || opts.Password != "secret" || opts.DB != 2 {
		t.Errorf("unexpected options: %+v", opts)
	}
}

func TestNewClientUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// 端口 1 上不会有 Redis 监听
	if _, err := NewClient(ctx, config.RedisConfig{Host: "127.0.0.1", Port: 1}); err == nil {
		t.Fatal("expected an error for an unreachable server")
	}
}

func TestHealthCheckNilClient(t *testing.T) {
	if err := HealthCheck(context.Background(), nil); err == nil {
		t.Fatal("expected an error for a nil client")
	}
}
