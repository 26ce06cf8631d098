package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mdm/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisModeStandalone = "standalone"
	redisModeSentinel   = "sentinel"
	redisModeCluster    = "cluster"
)

// ErrRedisDisabled 配置中未启用 Redis
var ErrRedisDisabled = errors.New("redis 未启用")

// NewRedisClient 按配置构造客户端，不建立连接
// Redis 只承载令牌黑名单、离线通知和异步队列，主数据本身不写入 Redis
func NewRedisClient(cfg *config.RedisConfig) (redis.UniversalClient, string, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, "", ErrRedisDisabled
	}
	mode := cfg.Mode
	if mode == "" {
		mode = redisModeStandalone
	}

	switch mode {
	case redisModeStandalone:
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Addr(),
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
		}), mode, nil
	case redisModeSentinel:
		if cfg.MasterName == "" || len(cfg.SentinelAddrs) == 0 {
			return nil, mode, fmt.Errorf("sentinel 模式需要 master_name 和 sentinel_addrs")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
			PoolSize:         cfg.PoolSize,
			MinIdleConns:     cfg.MinIdleConns,
		}), mode, nil
	case redisModeCluster:
		if len(cfg.ClusterAddrs) == 0 {
			return nil, mode, fmt.Errorf("cluster 模式需要 cluster_addrs")
		}
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
		}), mode, nil
	}
	return nil, mode, fmt.Errorf("未知的 redis 模式 %q", mode)
}

// OpenRedis 构造客户端并在启动期确认连通；连不上直接失败，不降级为内存实现
func OpenRedis(ctx context.Context, cfg *config.RedisConfig, log *zap.Logger) (redis.UniversalClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rdb, mode, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	if err := HealthCheckRedis(ctx, rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("连接 redis (%s): %w", mode, err)
	}
	log.Info("redis 已连接", zap.String("mode", mode))
	return rdb, nil
}

// HealthCheckRedis 供 /ready 使用
func HealthCheckRedis(ctx context.Context, rdb redis.UniversalClient) error {
	if rdb == nil {
		return ErrRedisDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
