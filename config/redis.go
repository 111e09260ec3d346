package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

// ErrRedisNotConfigured means no Redis address is set. Role caching, single-use
// state claims and the scheduler lock are then disabled.
var ErrRedisNotConfigured = errors.New("REDIS_ADDR (or REDIS_URI/REDIS_URL) environment variable is not set")

func InitRedis() error {
	val := os.Getenv("REDIS_ADDR")
	if val == "" {
		val = os.Getenv("REDIS_URI")
	}
	if val == "" {
		val = os.Getenv("REDIS_URL")
	}
	if val == "" {
		return ErrRedisNotConfigured
	}

	if strings.HasPrefix(val, "redis://") || strings.HasPrefix(val, "rediss://") {
		opt, err := redis.ParseURL(val)
		if err != nil {
			return err
		}
		RedisClient = redis.NewClient(opt)
	} else {
		RedisClient = redis.NewClient(&redis.Options{Addr: val})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RedisClient.Ping(ctx).Err(); err != nil {
		_ = RedisClient.Close()
		RedisClient = nil
		return err
	}
	return nil
}
