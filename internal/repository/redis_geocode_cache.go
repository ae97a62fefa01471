package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"landgrid/internal/domain/model"
	"landgrid/internal/domain/repository"
	"landgrid/internal/infrastructure/logger"
	"landgrid/internal/infrastructure/metrics"
)

const geocodeKeyPrefix = "landgrid:geocode:"

// RedisGeocodeCache 逆ジオコーディング結果をセル単位でRedisにキャッシュする
// Redisの障害時はキャッシュを使わずに下位のジオコーダーを呼ぶ
type RedisGeocodeCache struct {
	next repository.Geocoder
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

// NewRedisGeocodeCache 新しいRedisGeocodeCacheインスタンスを作成
func NewRedisGeocodeCache(next repository.Geocoder, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *RedisGeocodeCache {
	return &RedisGeocodeCache{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  logger.OrDefault(log),
	}
}

// geocodeKey 同じセル内の座標は同じ住所として扱う
func geocodeKey(lng, lat float64) string {
	return geocodeKeyPrefix + model.CellIDOf(lng, lat).String()
}

func (c *RedisGeocodeCache) ReverseGeocode(ctx context.Context, lng, lat float64) (string, error) {
	key := geocodeKey(lng, lat)

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		metrics.GeocodeCacheHitsTotal.Inc()
		return cached, nil
	case errors.Is(err, redis.Nil):
		metrics.GeocodeCacheMissesTotal.Inc()
	default:
		metrics.GeocodeCacheMissesTotal.Inc()
		c.log.Warn("⚠️ ジオコードキャッシュの読み込みに失敗", "key", key, "error", err)
	}

	address, err := c.next.ReverseGeocode(ctx, lng, lat)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, address, c.ttl).Err(); err != nil {
		c.log.Warn("⚠️ ジオコードキャッシュの書き込みに失敗", "key", key, "error", err)
	}
	return address, nil
}
