package invoke

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/pnvasko/hit-counter/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// NatsInvoker calls downstream targets over NATS request/reply. The target
// name is appended to the subject prefix.
type NatsInvoker struct {
	nc            *nats.Conn
	subjectPrefix string

	tracer trace.Tracer
	logger *common.Logger
}

type NatsInvokerOption func(*NatsInvoker) error

func WithSubjectPrefix(prefix string) NatsInvokerOption {
	return func(ni *NatsInvoker) error {
		ni.subjectPrefix = prefix
		return nil
	}
}

func NewNatsInvoker(nc *nats.Conn, tracer trace.Tracer, logger *common.Logger, opts ...NatsInvokerOption) (*NatsInvoker, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	ni := &NatsInvoker{
		nc:     nc,
		tracer: tracer,
		logger: logger,
	}
	for _, opt := range opts {
		if err := opt(ni); err != nil {
			return nil, err
		}
	}
	return ni, nil
}

func (ni *NatsInvoker) Subject(target string) string {
	return ni.subjectPrefix + target
}

// Invoke sends one request and waits for the reply until ctx is done.
func (ni *NatsInvoker) Invoke(ctx context.Context, target string, payload []byte) ([]byte, error) {
	if target == "" {
		return nil, common.NewInvokeError(target, common.ErrEmptyTarget)
	}
	subject := ni.Subject(target)

	ctx, span := ni.tracer.Start(ctx, "nats.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.FaaSInvokedNameKey.String(target),
			attribute.String("messaging.destination", subject),
		),
	)
	defer span.End()

	msg := nats.NewMsg(subject)
	msg.Data = payload
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	reply, err := ni.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			err = fmt.Errorf("no responders on %q: %w", subject, err)
		}
		return nil, common.SetSpanError(ctx, "nats request failed", common.NewInvokeError(target, err))
	}

	if description := reply.Header.Get(common.ServiceErrorHeader); description != "" {
		err := fmt.Errorf("%w: %s (code %s)", common.ErrFunctionError, description, reply.Header.Get(common.ServiceErrorCodeHeader))
		return nil, common.SetSpanError(ctx, "nats target returned an error", common.NewInvokeError(target, err))
	}
	if len(reply.Data) == 0 {
		return nil, common.SetSpanError(ctx, "nats target returned no payload", common.NewInvokeError(target, common.ErrEmptyPayload))
	}
	ni.logger.Ctx(ctx).Debug("nats request completed", zap.String("subject", subject), zap.Int("reply_size", len(reply.Data)))
	return reply.Data, nil
}
