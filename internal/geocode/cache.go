package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/metrics"
	"github.com/JakeFAU/regionpulse/internal/pulse"
)

const (
	defaultCacheTTL = 30 * 24 * time.Hour
	defaultMissTTL  = 24 * time.Hour
	keyPrefix       = "geocode:"
	missMarker      = "null"
	pingTimeout     = 5 * time.Second
)

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	MissTTL  time.Duration `mapstructure:"miss_ttl"`
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisCache memoizes another geocoder. Misses are cached with a shorter TTL
// so unknown places are not looked up on every scan. Cache failures fall
// through to the wrapped geocoder.
type RedisCache struct {
	next    pulse.Geocoder
	client  redis.Cmdable
	ttl     time.Duration
	missTTL time.Duration
	logger  *zap.Logger
}

// NewRedisCache wraps next with a cache stored in client.
func NewRedisCache(next pulse.Geocoder, client redis.Cmdable, ttl, missTTL time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if missTTL <= 0 {
		missTTL = defaultMissTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		next:    next,
		client:  client,
		ttl:     ttl,
		missTTL: missTTL,
		logger:  logger.Named("geocode_cache"),
	}
}

// Geocode checks the cache before asking the wrapped geocoder.
func (c *RedisCache) Geocode(ctx context.Context, location string) (*pulse.GeoPoint, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, nil
	}
	key := cacheKey(location)

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if point, ok := decodeCached(raw); ok {
			metrics.ObserveGeocodeCache("hit")
			return point, nil
		}
		c.logger.Warn("discarding corrupt cache entry", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		metrics.ObserveGeocodeCache("error")
		c.logger.Warn("geocode cache read failed", zap.String("key", key), zap.Error(err))
	}
	metrics.ObserveGeocodeCache("miss")

	point, err := c.next.Geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	value, ttl := missMarker, c.missTTL
	if point != nil {
		encoded, err := json.Marshal(point)
		if err != nil {
			return point, nil
		}
		value, ttl = string(encoded), c.ttl
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("geocode cache write failed", zap.String("key", key), zap.Error(err))
	}
	return point, nil
}

func cacheKey(location string) string {
	return keyPrefix + strings.Join(strings.Fields(strings.ToLower(location)), " ")
}

func decodeCached(raw string) (*pulse.GeoPoint, bool) {
	if raw == missMarker {
		return nil, true
	}
	var point pulse.GeoPoint
	if err := json.Unmarshal([]byte(raw), &point); err != nil {
		return nil, false
	}
	return &point, true
}
