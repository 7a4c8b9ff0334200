package invoke

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/pnvasko/hit-counter/common"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LambdaInvokeAPI is the part of *lambda.Client the invoker uses.
type LambdaInvokeAPI interface {
	Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

type LambdaInvoker struct {
	client    LambdaInvokeAPI
	qualifier string

	tracer trace.Tracer
	logger *common.Logger
}

type LambdaInvokerOption func(*LambdaInvoker) error

// WithQualifier pins invocations to a function version or alias.
func WithQualifier(qualifier string) LambdaInvokerOption {
	return func(li *LambdaInvoker) error {
		li.qualifier = qualifier
		return nil
	}
}

func NewLambdaInvoker(client LambdaInvokeAPI, tracer trace.Tracer, logger *common.Logger, opts ...LambdaInvokerOption) (*LambdaInvoker, error) {
	if client == nil {
		return nil, fmt.Errorf("lambda client is required")
	}
	li := &LambdaInvoker{
		client: client,
		tracer: tracer,
		logger: logger,
	}
	for _, opt := range opts {
		if err := opt(li); err != nil {
			return nil, err
		}
	}
	return li, nil
}

// Invoke runs target with RequestResponse semantics. A function error
// reported by the service fails the call with the returned payload as its
// message.
func (li *LambdaInvoker) Invoke(ctx context.Context, target string, payload []byte) ([]byte, error) {
	if target == "" {
		return nil, common.NewInvokeError(target, common.ErrEmptyTarget)
	}

	ctx, span := li.tracer.Start(ctx, "lambda.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.FaaSInvokedNameKey.String(target),
			semconv.FaaSInvokedProviderAWS,
		),
	)
	defer span.End()

	input := &awslambda.InvokeInput{
		FunctionName:   aws.String(target),
		InvocationType: lambdatypes.InvocationTypeRequestResponse,
		Payload:        payload,
	}
	if li.qualifier != "" {
		input.Qualifier = aws.String(li.qualifier)
	}

	out, err := li.client.Invoke(ctx, input)
	if err != nil {
		return nil, common.SetSpanError(ctx, "lambda invoke failed", common.NewInvokeError(target, err))
	}
	span.SetAttributes(attribute.Int("faas.status_code", int(out.StatusCode)))

	if out.FunctionError != nil {
		err := fmt.Errorf("%w: %s: %s", common.ErrFunctionError, aws.ToString(out.FunctionError), string(out.Payload))
		return nil, common.SetSpanError(ctx, "lambda function returned an error", common.NewInvokeError(target, err))
	}
	if len(out.Payload) == 0 {
		return nil, common.SetSpanError(ctx, "lambda returned no payload", common.NewInvokeError(target, common.ErrEmptyPayload))
	}
	li.logger.Ctx(ctx).Debug("lambda invoke completed", zap.String("target", target), zap.Int32("status_code", out.StatusCode))
	return out.Payload, nil
}
