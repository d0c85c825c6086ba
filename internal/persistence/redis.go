package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/config"
)

// Redis wraps the go-redis client used for queue checkpoints. One address
// gives a plain client, several give a cluster client, and a master name
// selects sentinel failover.
type Redis struct {
	Client redis.UniversalClient
}

// NewRedis builds the client. An empty address disables checkpointing. An
// unreachable server is only logged: checkpoint writes fail per call and
// the bridge keeps relaying from the datastore.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	addrs := splitAddrs(cfg.Addr)
	if len(addrs) == 0 {
		logger.Warn("REDIS_ADDR not provided; queue checkpoints disabled")
		return &Redis{}
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      addrs,
		MasterName: cfg.MasterName,
		Password:   cfg.Password,
		DB:         cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Strings("addrs", addrs), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.Strings("addrs", addrs))
	}

	return &Redis{Client: client}
}

func splitAddrs(raw string) []string {
	var addrs []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			addrs = append(addrs, part)
		}
	}
	return addrs
}

// Enabled reports whether a client is configured.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

// Close closes the client.
func (r *Redis) Close() {
	if r.Enabled() {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
