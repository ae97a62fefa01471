package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"landgrid/internal/config"
)

// OpenRedis 設定からRedisクライアントを作成する。アドレス未設定ならnil
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return rdb, nil
}
