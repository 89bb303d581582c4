package config

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

func InitRedis() error {
	val := os.Getenv("REDIS_ADDR")
	if val == "" {
		val = os.Getenv("REDIS_URI")
	}
	if val == "" {
		val = os.Getenv("REDIS_URL")
	}
	if val == "" {
		return errors.New("REDIS_ADDR (or REDIS_URI/REDIS_URL) environment variable is not set")
	}

	opt, err := RedisOptions(val)
	if err != nil {
		return err
	}
	RedisClient = redis.NewClient(opt)

	return RedisClient.Ping(context.Background()).Err()
}

// RedisOptions accepts either a redis:// URL or a bare host:port.
func RedisOptions(val string) (*redis.Options, error) {
	val = strings.TrimSpace(val)
	if strings.HasPrefix(val, "redis://") || strings.HasPrefix(val, "rediss://") {
		return redis.ParseURL(val)
	}
	if val == "" {
		return nil, errors.New("empty redis address")
	}
	return &redis.Options{Addr: val, Password: os.Getenv("REDIS_PASSWORD")}, nil
}
