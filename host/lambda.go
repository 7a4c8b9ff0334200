package host

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/pnvasko/hit-counter/common"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.uber.org/zap"
)

// LambdaHandler receives the event bytes exactly as the runtime delivered
// them. It implements lambda.Handler so no decode/encode round trip happens
// before Handle.
type LambdaHandler struct {
	handler Handler
	logger  *common.Logger
}

var _ lambda.Handler = (*LambdaHandler)(nil)

func NewLambdaHandler(handler Handler, logger *common.Logger) *LambdaHandler {
	return &LambdaHandler{handler: handler, logger: logger}
}

// Invoke returns handler errors to the runtime unchanged, which reports the
// invocation as failed.
func (h *LambdaHandler) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	fields := []zap.Field{zap.Int("event_size", len(payload))}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		fields = append(fields,
			zap.String("aws_request_id", lc.AwsRequestID),
			zap.String("function_arn", lc.InvokedFunctionArn),
		)
	}
	h.logger.Ctx(ctx).Debug("lambda invocation", fields...)

	out, err := h.handler.Handle(ctx, payload)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NewInstrumentedLambdaHandler wraps handler with otellambda tracing. Spans
// are flushed through telemetry after every invocation.
func NewInstrumentedLambdaHandler(handler Handler, telemetry *common.Telemetry, logger *common.Logger) lambda.Handler {
	return otellambda.WrapHandler(NewLambdaHandler(handler, logger),
		otellambda.WithPropagator(xray.Propagator{}),
		otellambda.WithFlusher(telemetry),
	)
}

// StartLambda hands control to the Lambda runtime and does not return under
// normal operation. Exporters are shut down on SIGTERM.
func StartLambda(ctx context.Context, handler Handler, telemetry *common.Telemetry, logger *common.Logger) {
	lambda.StartWithOptions(NewInstrumentedLambdaHandler(handler, telemetry, logger),
		lambda.WithContext(ctx),
		lambda.WithEnableSIGTERM(func() {
			logger.Ctx(ctx).Info("lambda runtime shutting down")
			if err := telemetry.Shutdown(context.Background()); err != nil {
				logger.Ctx(ctx).Error("telemetry shutdown failed", zap.Error(err))
			}
			_ = logger.Sync()
		}),
	)
}
