package config

// This file defines the Redis client constructor.  Redis backs the seat
// listing cache, the lock endpoint rate limiter and the reaper's
// distributed mutex.  None of these are needed for correctness, so when
// the server cannot be reached the constructor returns nil and callers
// degrade gracefully.

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig is decoded from REDIS_* variables.  REDIS_HOST and
// REDIS_PORT take precedence over REDIS_ADDR when both are set.
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"`
	Port     string `envconfig:"REDIS_PORT"`
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	TLS      bool   `envconfig:"REDIS_TLS" default:"false"`
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"true"`
}

func (rc RedisConfig) address() string {
	if rc.Host != "" && rc.Port != "" {
		return rc.Host + ":" + rc.Port
	}
	return rc.Addr
}

// NewRedisClient instantiates a Redis client from the environment and pings
// it with a short timeout.  The returned client is nil when Redis is
// disabled, misconfigured or unreachable.
func NewRedisClient(log *zap.Logger) *redis.Client {
	var rc RedisConfig
	if err := envconfig.Process("", &rc); err != nil {
		log.Warn("redis config invalid; running without redis", zap.Error(err))
		return nil
	}
	if !rc.Enabled {
		return nil
	}
	var tlsConf *tls.Config
	if rc.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      rc.address(),
		Password:  rc.Password,
		DB:        rc.DB,
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable; cache, rate limit and reaper mutex disabled",
			zap.String("addr", rc.address()), zap.Error(err))
		_ = client.Close()
		return nil
	}
	return client
}
