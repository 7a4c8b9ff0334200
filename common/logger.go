package common

import (
	"context"
	"os"

	"github.com/go-logr/zapr"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*otelzap.Logger
}

func (log *Logger) Ctx(ctx context.Context) otelzap.LoggerWithCtx {
	return log.Logger.Ctx(ctx)
}

func (log *Logger) OtelZapLogger() *otelzap.Logger {
	return log.Logger
}

func (log *Logger) ZapLogger() *zap.Logger {
	return log.Logger.Logger
}

func (log *Logger) Sync() error {
	return log.Logger.Logger.Sync()
}

func NewLogger(cfg OtlpConfig) (*Logger, error) {
	zapConf := zap.NewProductionEncoderConfig()
	zapConf.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Debug() {
		zapConf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(zapConf)
	} else {
		encoder = zapcore.NewJSONEncoder(zapConf)
	}
	level := cfg.LogLevel()

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)).
		With(zap.String("service", cfg.ServiceName()))

	logger := &Logger{
		Logger: otelzap.New(zapLogger, otelzap.WithMinLevel(level)),
	}
	zap.ReplaceGlobals(logger.ZapLogger())
	otelzap.ReplaceGlobals(logger.OtelZapLogger())

	// otel reports exporter and propagation problems through logr.
	otel.SetLogger(zapr.NewLogger(logger.ZapLogger()))

	return logger, nil
}

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{Logger: otelzap.New(zap.NewNop())}
}
