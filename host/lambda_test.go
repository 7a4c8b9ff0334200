package host

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	hitcounter "github.com/pnvasko/hit-counter"
	"github.com/pnvasko/hit-counter/common"
	"github.com/pnvasko/hit-counter/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

// echoInvoker records every forwarded payload and replies with it.
type echoInvoker struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (e *echoInvoker) Invoke(ctx context.Context, target string, payload []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, append([]byte(nil), payload...))
	if e.err != nil {
		return nil, e.err
	}
	return payload, nil
}

func newLambdaRuntimeHandler(t *testing.T, invoker hitcounter.Invoker) (lambda.Handler, *store.MemoryCounter) {
	t.Helper()
	logger := common.NewNopLogger()
	tracer := noop.NewTracerProvider().Tracer("test.host.lambda")

	counter, err := store.NewMemoryCounter()
	require.NoError(t, err)
	handler, err := hitcounter.NewHandler(counter, invoker, "downstream", tracer, logger)
	require.NoError(t, err)

	return lambda.NewHandler(NewInstrumentedLambdaHandler(handler, &common.Telemetry{}, logger)), counter
}

func lambdaContext() context.Context {
	return lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{
		AwsRequestID:       "c6af9ac6-7b61-11e6-9a41-93e812345678",
		InvokedFunctionArn: "arn:aws:lambda:us-east-1:123456789012:function:hit-counter",
	})
}

func TestLambdaHandler(t *testing.T) {
	t.Run("ForwardsEventBytesUnchanged", func(t *testing.T) {
		invoker := &echoInvoker{}
		h, counter := newLambdaRuntimeHandler(t, invoker)

		raw := []byte(`{"path":"/a&b","z":1,"id":12345678901234567890,"f":1.50}`)
		out, err := h.Invoke(lambdaContext(), raw)
		require.NoError(t, err)

		require.Len(t, invoker.payloads, 1)
		assert.Equal(t, string(raw), string(invoker.payloads[0]))
		assert.Equal(t, string(raw), string(out))
		assert.Equal(t, int64(1), counter.Value("/a&b"))
	})

	t.Run("HandlerErrorReachesRuntime", func(t *testing.T) {
		cause := errors.New("downstream unavailable")
		invoker := &echoInvoker{err: cause}
		h, counter := newLambdaRuntimeHandler(t, invoker)

		out, err := h.Invoke(lambdaContext(), []byte(`{"path":"/home"}`))
		require.Error(t, err)
		assert.Nil(t, out)
		assert.Contains(t, err.Error(), "downstream unavailable")
		assert.Equal(t, int64(1), counter.Value("/home"))
	})

	t.Run("DecodeErrorReachesRuntime", func(t *testing.T) {
		invoker := &echoInvoker{}
		h, counter := newLambdaRuntimeHandler(t, invoker)

		_, err := h.Invoke(lambdaContext(), []byte(`{"route":"/home"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "path is required")
		assert.Empty(t, invoker.payloads)
		assert.Equal(t, int64(0), counter.Value("/home"))
	})
}
