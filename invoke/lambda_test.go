package invoke

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/pnvasko/hit-counter/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeLambda struct {
	inputs []*awslambda.InvokeInput
	output *awslambda.InvokeOutput
	err    error
}

func (f *fakeLambda) Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	if f.output != nil {
		return f.output, nil
	}
	return &awslambda.InvokeOutput{StatusCode: 200, Payload: params.Payload}, nil
}

func TestLambdaInvoker(t *testing.T) {
	ctx := context.Background()
	tracer := noop.NewTracerProvider().Tracer("test.invoke.lambda")
	logger := common.NewNopLogger()

	t.Run("RequestResponse", func(t *testing.T) {
		client := &fakeLambda{}
		li, err := NewLambdaInvoker(client, tracer, logger)
		require.NoError(t, err)

		payload := []byte(`{"path":"/home", "extra":42}`)
		out, err := li.Invoke(ctx, "downstream-fn", payload)
		require.NoError(t, err)
		assert.Equal(t, payload, out)

		require.Len(t, client.inputs, 1)
		in := client.inputs[0]
		assert.Equal(t, "downstream-fn", aws.ToString(in.FunctionName))
		assert.Equal(t, lambdatypes.InvocationTypeRequestResponse, in.InvocationType)
		assert.Equal(t, payload, in.Payload)
		assert.Nil(t, in.Qualifier)
	})

	t.Run("Qualifier", func(t *testing.T) {
		client := &fakeLambda{}
		li, err := NewLambdaInvoker(client, tracer, logger, WithQualifier("live"))
		require.NoError(t, err)

		_, err = li.Invoke(ctx, "downstream-fn", []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, "live", aws.ToString(client.inputs[0].Qualifier))
	})

	t.Run("TransportError", func(t *testing.T) {
		cause := errors.New("AccessDeniedException")
		li, err := NewLambdaInvoker(&fakeLambda{err: cause}, tracer, logger)
		require.NoError(t, err)

		_, err = li.Invoke(ctx, "downstream-fn", []byte(`{}`))
		var invokeErr *common.InvokeError
		require.ErrorAs(t, err, &invokeErr)
		assert.Equal(t, "downstream-fn", invokeErr.Target)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("FunctionError", func(t *testing.T) {
		client := &fakeLambda{output: &awslambda.InvokeOutput{
			StatusCode:    200,
			FunctionError: aws.String("Unhandled"),
			Payload:       []byte(`{"errorMessage":"boom"}`),
		}}
		li, err := NewLambdaInvoker(client, tracer, logger)
		require.NoError(t, err)

		out, err := li.Invoke(ctx, "downstream-fn", []byte(`{}`))
		require.Nil(t, out)
		require.ErrorIs(t, err, common.ErrFunctionError)
		assert.Contains(t, err.Error(), "boom")
		assert.True(t, common.IsInvokeError(err))
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		client := &fakeLambda{output: &awslambda.InvokeOutput{StatusCode: 200}}
		li, err := NewLambdaInvoker(client, tracer, logger)
		require.NoError(t, err)

		_, err = li.Invoke(ctx, "downstream-fn", []byte(`{}`))
		require.ErrorIs(t, err, common.ErrEmptyPayload)
		assert.True(t, common.IsInvokeError(err))
	})

	t.Run("EmptyTarget", func(t *testing.T) {
		client := &fakeLambda{}
		li, err := NewLambdaInvoker(client, tracer, logger)
		require.NoError(t, err)

		_, err = li.Invoke(ctx, "", []byte(`{}`))
		require.ErrorIs(t, err, common.ErrEmptyTarget)
		assert.Empty(t, client.inputs)
	})
}
