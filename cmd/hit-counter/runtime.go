package main

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/nats-io/nats.go"
	hitcounter "github.com/pnvasko/hit-counter"
	"github.com/pnvasko/hit-counter/common"
	"github.com/pnvasko/hit-counter/invoke"
	"github.com/pnvasko/hit-counter/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// runtime holds the clients built once per process and shared by every
// invocation.
type runtime struct {
	cfg       *common.HitCounterConfig
	telemetry *common.Telemetry
	logger    *common.Logger
	tracer    trace.Tracer

	nc      *nats.Conn
	redis   *redis.Client
	handler *hitcounter.Handler
}

func newRuntime(ctx context.Context) (*runtime, error) {
	otlpCfg, err := common.NewTelemetryConfig()
	if err != nil {
		return nil, err
	}
	logger, err := common.NewLogger(otlpCfg)
	if err != nil {
		return nil, err
	}
	telemetry, err := common.InitOpentelemetry(otlpCfg)
	if err != nil {
		return nil, err
	}

	cfg, err := common.NewHitCounterConfig()
	if err != nil {
		return nil, fmt.Errorf("hit counter config: %w", err)
	}

	rt := &runtime{
		cfg:       cfg,
		telemetry: telemetry,
		logger:    logger,
		tracer:    otel.Tracer(common.TracerName),
	}

	counter, invoker, err := rt.buildClients(ctx)
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.handler, err = hitcounter.NewHandler(counter, invoker, cfg.DownstreamName(), rt.tracer, logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	logger.Ctx(ctx).Info("hit counter configured",
		zap.String("table", cfg.TableName()),
		zap.String("downstream", cfg.DownstreamName()),
		zap.String("counter_store", cfg.CounterStore()),
		zap.String("invoker", cfg.Invoker()),
	)
	return rt, nil
}

func (rt *runtime) buildClients(ctx context.Context) (hitcounter.CounterStore, hitcounter.Invoker, error) {
	var (
		dynamoClient *dynamodb.Client
		lambdaClient *awslambda.Client
	)
	if rt.cfg.NeedsAWS() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		otelaws.AppendMiddlewares(&awsCfg.APIOptions)
		dynamoClient = dynamodb.NewFromConfig(awsCfg)
		lambdaClient = awslambda.NewFromConfig(awsCfg)
	}

	if rt.cfg.NeedsNats() {
		if err := rt.connectNats(); err != nil {
			return nil, nil, err
		}
	}

	var counter hitcounter.CounterStore
	switch rt.cfg.CounterStore() {
	case common.CounterStoreDynamoDB:
		dc, err := store.NewDynamoDBCounter(dynamoClient, rt.cfg.TableName(), rt.tracer, rt.logger,
			store.WithKeyAttribute[*store.DynamoDBCounter](rt.cfg.KeyAttribute()),
			store.WithHitsField[*store.DynamoDBCounter](rt.cfg.HitsField()),
		)
		if err != nil {
			return nil, nil, err
		}
		counter = dc
	case common.CounterStoreRedis:
		client, err := store.NewRedisClient(rt.cfg.RedisURL())
		if err != nil {
			return nil, nil, err
		}
		rt.redis = client
		rc, err := store.NewRedisCounter(client, rt.cfg.TableName(), rt.tracer, rt.logger,
			store.WithHitsField[*store.RedisCounter](rt.cfg.HitsField()),
		)
		if err != nil {
			return nil, nil, err
		}
		counter = rc
	case common.CounterStoreMemory:
		mc, err := store.NewMemoryCounter(store.WithTableName[*store.MemoryCounter](rt.cfg.TableName()))
		if err != nil {
			return nil, nil, err
		}
		counter = mc
	default:
		return nil, nil, fmt.Errorf("counter store %q is not supported", rt.cfg.CounterStore())
	}

	var invoker hitcounter.Invoker
	switch rt.cfg.Invoker() {
	case common.InvokerLambda:
		li, err := invoke.NewLambdaInvoker(lambdaClient, rt.tracer, rt.logger)
		if err != nil {
			return nil, nil, err
		}
		invoker = li
	case common.InvokerNats:
		ni, err := invoke.NewNatsInvoker(rt.nc, rt.tracer, rt.logger, invoke.WithSubjectPrefix(rt.cfg.NatsSubjectPrefix()))
		if err != nil {
			return nil, nil, err
		}
		invoker = ni
	default:
		return nil, nil, fmt.Errorf("invoker %q is not supported", rt.cfg.Invoker())
	}

	return counter, invoker, nil
}

func (rt *runtime) connectNats() error {
	if rt.nc != nil {
		return nil
	}
	nc, err := nats.Connect(rt.cfg.NatsURL(), nats.Name(common.TracerName))
	if err != nil {
		return fmt.Errorf("connect nats %q: %w", rt.cfg.NatsURL(), err)
	}
	rt.nc = nc
	return nil
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if rt.nc != nil {
		if err := rt.nc.Drain(); err != nil {
			rt.logger.Ctx(ctx).Error("failed to drain nats connection", zap.Error(err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Ctx(ctx).Error("failed to close redis client", zap.Error(err))
		}
	}
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		rt.logger.Ctx(ctx).Sugar().Errorf("failed to shutdown telemetry: %s", err.Error())
	}
	_ = rt.logger.Sync()
}
