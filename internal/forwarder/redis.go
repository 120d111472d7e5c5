package forwarder

import (
	"context"
	"fmt"
	"time"

	"github.com/amoylab/gwbridge/internal/common/cnst"
	"github.com/amoylab/gwbridge/internal/common/config"
	"github.com/amoylab/gwbridge/internal/gateway"
	"github.com/amoylab/gwbridge/pkg/helper"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisMirror appends forwarded events to a capped redis stream
type RedisMirror struct {
	logger *zap.Logger
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisMirror connects to redis and verifies the connection
func NewRedisMirror(logger *zap.Logger, cfg config.MirrorConfig) (*RedisMirror, error) {
	redisOptions := &redis.UniversalOptions{
		Addrs:    helper.SplitAddrs(cfg.Addr),
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.ClusterType == cnst.RedisClusterTypeSentinel {
		redisOptions.MasterName = cfg.MasterName
	}
	if cfg.ClusterType != cnst.RedisClusterTypeCluster {
		// can not set db in cluster mode
		redisOptions.DB = cfg.DB
	}
	client := redis.NewUniversalClient(redisOptions)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisMirror{
		logger: logger.Named("forwarder.mirror"),
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
	}, nil
}

// Publish adds one stream entry holding the event name and raw payload
func (r *RedisMirror) Publish(ctx context.Context, ev gateway.OutboundEvent) error {
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event":     ev.EventName,
			"data":      string(ev.Payload),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add message to stream: %w", err)
	}
	r.logger.Debug("event mirrored", zap.String("event", ev.EventName), zap.String("id", id))
	return nil
}

func (r *RedisMirror) Close() error {
	return r.client.Close()
}
