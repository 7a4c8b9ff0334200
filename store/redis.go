package store

import (
	"context"
	"fmt"

	"github.com/pnvasko/hit-counter/common"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RedisCounter keeps one hash per key, named "<table>:<key>", and bumps its
// hits field with HINCRBY.
type RedisCounter struct {
	*baseStore
	client redis.Cmdable

	tracer trace.Tracer
	logger *common.Logger
}

func NewRedisCounter(client redis.Cmdable, tableName string, tracer trace.Tracer, logger *common.Logger, opts ...StoreOption[*RedisCounter]) (*RedisCounter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	rc := &RedisCounter{
		baseStore: newBaseStore(tableName),
		client:    client,
		tracer:    tracer,
		logger:    logger,
	}

	for _, opt := range opts {
		if err := opt(rc); err != nil {
			return nil, err
		}
	}

	if rc.tableName == "" {
		return nil, fmt.Errorf("redis counter table name is required")
	}
	return rc, nil
}

// NewRedisClient parses a redis:// or rediss:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (rc *RedisCounter) Incr(ctx context.Context, key string) error {
	if key == "" {
		return common.NewStoreError(key, common.ErrEmptyKey)
	}

	hashKey := rc.HashKey(key)
	ctx, span := rc.tracer.Start(ctx, "redis.hincrby",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemKey.String("redis"),
			attribute.String("db.redis.key", hashKey),
		),
	)
	defer span.End()

	if err := rc.client.HIncrBy(ctx, hashKey, rc.hitsField, rc.increment).Err(); err != nil {
		return common.SetSpanError(ctx, "redis counter update failed", common.NewStoreError(key, err),
			attribute.String("table", rc.tableName))
	}
	rc.logger.Ctx(ctx).Debug("hit count incremented", zap.String("hash", hashKey))
	return nil
}

func (rc *RedisCounter) HashKey(key string) string {
	return fmt.Sprintf("%s:%s", rc.tableName, key)
}
