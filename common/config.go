package common

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap/zapcore"
)

const (
	CounterStoreDynamoDB = "dynamodb"
	CounterStoreRedis    = "redis"
	CounterStoreMemory   = "memory"

	InvokerLambda = "lambda"
	InvokerNats   = "nats"

	defaultServiceName       = "hit-counter"
	defaultEnvironment       = "development"
	defaultVersion           = "0.0.0"
	defaultKeyAttribute      = "path"
	defaultHitsField         = "hits"
	defaultNatsSubjectPrefix = "hit_counter."
)

type OtlpConfig interface {
	Debug() bool
	LogLevel() zapcore.Level
	Environment() string
	Dsn() string
	ServiceName() string
	Version() string
}

type TelemetryConfig struct {
	debug       bool
	logLevel    zapcore.Level
	dsn         string
	serviceName string
	environment string
	version     string
}

// NewTelemetryConfig reads logging and tracing settings from the environment.
// Nothing here is required: an empty UPTRACE_DSN keeps exporters off.
func NewTelemetryConfig() (*TelemetryConfig, error) {
	cfg := &TelemetryConfig{
		logLevel:    zapcore.InfoLevel,
		serviceName: defaultServiceName,
		environment: defaultEnvironment,
		version:     defaultVersion,
	}

	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		cfg.debug = true
		cfg.logLevel = zapcore.DebugLevel
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		level, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL is invalid: %w", err)
		}
		cfg.logLevel = level
	}

	cfg.dsn = os.Getenv("UPTRACE_DSN")

	if name := os.Getenv("SERVICE_NAME"); name != "" {
		cfg.serviceName = name
	} else if name := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); name != "" {
		cfg.serviceName = name
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.environment = env
	}
	if version := os.Getenv("VERSION"); version != "" {
		cfg.version = version
	}
	return cfg, nil
}

func (c *TelemetryConfig) Debug() bool {
	return c.debug
}

func (c *TelemetryConfig) LogLevel() zapcore.Level {
	return c.logLevel
}

func (c *TelemetryConfig) Environment() string {
	return c.environment
}

func (c *TelemetryConfig) Dsn() string {
	return c.dsn
}

func (c *TelemetryConfig) ServiceName() string {
	return c.serviceName
}

func (c *TelemetryConfig) Version() string {
	return c.version
}

var _ OtlpConfig = (*TelemetryConfig)(nil)

type HitCounterConfig struct {
	tableName         string
	downstreamName    string
	counterStore      string
	invoker           string
	redisURL          string
	natsURL           string
	natsSubjectPrefix string
	keyAttribute      string
	hitsField         string
}

// NewHitCounterConfig loads the handler configuration. Every missing
// required variable is reported in the returned error.
func NewHitCounterConfig() (*HitCounterConfig, error) {
	var errs []error
	cfg := &HitCounterConfig{
		counterStore:      CounterStoreDynamoDB,
		invoker:           InvokerLambda,
		natsURL:           nats.DefaultURL,
		natsSubjectPrefix: defaultNatsSubjectPrefix,
		keyAttribute:      defaultKeyAttribute,
		hitsField:         defaultHitsField,
	}

	cfg.tableName = os.Getenv("HITS_TABLE_NAME")
	if cfg.tableName == "" {
		errs = append(errs, fmt.Errorf("HITS_TABLE_NAME is required"))
	}

	cfg.downstreamName = os.Getenv("DOWNSTREAM_FUNCTION_NAME")
	if cfg.downstreamName == "" {
		errs = append(errs, fmt.Errorf("DOWNSTREAM_FUNCTION_NAME is required"))
	}

	if v := strings.ToLower(os.Getenv("COUNTER_STORE")); v != "" {
		cfg.counterStore = v
	}
	switch cfg.counterStore {
	case CounterStoreDynamoDB, CounterStoreMemory:
	case CounterStoreRedis:
		cfg.redisURL = os.Getenv("REDIS_URL")
		if cfg.redisURL == "" {
			errs = append(errs, fmt.Errorf("REDIS_URL is required for redis counter store"))
		}
	default:
		errs = append(errs, fmt.Errorf("COUNTER_STORE %q is not supported", cfg.counterStore))
	}

	if v := strings.ToLower(os.Getenv("INVOKER")); v != "" {
		cfg.invoker = v
	}
	switch cfg.invoker {
	case InvokerLambda, InvokerNats:
	default:
		errs = append(errs, fmt.Errorf("INVOKER %q is not supported", cfg.invoker))
	}

	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.natsURL = v
	}
	if v, ok := os.LookupEnv("NATS_SUBJECT_PREFIX"); ok {
		cfg.natsSubjectPrefix = v
	}
	if v := os.Getenv("HITS_KEY_ATTRIBUTE"); v != "" {
		cfg.keyAttribute = v
	}
	if v := os.Getenv("HITS_FIELD"); v != "" {
		cfg.hitsField = v
	}

	if len(errs) > 0 {
		return nil, errors.New(MultiError(errs))
	}
	return cfg, nil
}

func (c *HitCounterConfig) TableName() string {
	return c.tableName
}

func (c *HitCounterConfig) DownstreamName() string {
	return c.downstreamName
}

func (c *HitCounterConfig) CounterStore() string {
	return c.counterStore
}

func (c *HitCounterConfig) Invoker() string {
	return c.invoker
}

func (c *HitCounterConfig) RedisURL() string {
	return c.redisURL
}

func (c *HitCounterConfig) NatsURL() string {
	return c.natsURL
}

func (c *HitCounterConfig) NatsSubjectPrefix() string {
	return c.natsSubjectPrefix
}

func (c *HitCounterConfig) KeyAttribute() string {
	return c.keyAttribute
}

func (c *HitCounterConfig) HitsField() string {
	return c.hitsField
}

// NeedsNats reports whether any configured backend talks to NATS.
func (c *HitCounterConfig) NeedsNats() bool {
	return c.invoker == InvokerNats
}

// NeedsAWS reports whether any configured backend talks to AWS.
func (c *HitCounterConfig) NeedsAWS() bool {
	return c.counterStore == CounterStoreDynamoDB || c.invoker == InvokerLambda
}
