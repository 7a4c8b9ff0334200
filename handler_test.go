package hit_counter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/pnvasko/hit-counter/common"
	"github.com/pnvasko/hit-counter/invoke"
	"github.com/pnvasko/hit-counter/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingStore struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (s *recordingStore) Incr(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.keys = append(s.keys, key)
	return nil
}

func (s *recordingStore) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// recordingInvoker echoes the payload unless response or err is set.
type recordingInvoker struct {
	mu       sync.Mutex
	targets  []string
	payloads [][]byte
	response []byte
	err      error
}

func (i *recordingInvoker) Invoke(ctx context.Context, target string, payload []byte) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.targets = append(i.targets, target)
	i.payloads = append(i.payloads, payload)
	if i.err != nil {
		return nil, i.err
	}
	if i.response != nil {
		return i.response, nil
	}
	return payload, nil
}

func (i *recordingInvoker) calls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.payloads)
}

func newTestHandler(t *testing.T, counter CounterStore, invoker Invoker) *Handler {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test.handler")
	h, err := NewHandler(counter, invoker, "downstream-fn", tracer, common.NewNopLogger())
	require.NoError(t, err)
	return h
}

func TestHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("EchoEndToEnd", func(t *testing.T) {
		counter, err := store.NewMemoryCounter()
		require.NoError(t, err)
		invoker := &recordingInvoker{}
		h := newTestHandler(t, counter, invoker)

		raw := []byte(`{"path":"/home","extra":42}`)
		out, err := h.Handle(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, `{"path":"/home","extra":42}`, string(out))
		assert.Equal(t, int64(1), counter.Value("/home"))
		assert.Equal(t, []string{"downstream-fn"}, invoker.targets)
	})

	t.Run("ForwardsOriginalBytes", func(t *testing.T) {
		counter := &recordingStore{}
		invoker := &recordingInvoker{response: []byte(`{"statusCode":200}`)}
		h := newTestHandler(t, counter, invoker)

		raw := []byte("{ \"z\":[1, 2],\n\t\"path\" : \"/docs\", \"a\":1.50 }")
		out, err := h.Handle(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, `{"statusCode":200}`, string(out))
		require.Len(t, invoker.payloads, 1)
		assert.Equal(t, raw, invoker.payloads[0])
		assert.Equal(t, []string{"/docs"}, counter.calls())
	})

	t.Run("DecodeFailureGatesSideEffects", func(t *testing.T) {
		for _, raw := range []string{`not json`, `{"extra":1}`, `{"path":7}`, `[]`} {
			counter := &recordingStore{}
			invoker := &recordingInvoker{}
			h := newTestHandler(t, counter, invoker)

			out, err := h.Handle(ctx, []byte(raw))
			require.Nil(t, out)
			require.True(t, common.IsDecodeError(err), raw)
			stage, ok := FailedStage(err)
			require.True(t, ok)
			assert.Equal(t, StageStart, stage)
			assert.Empty(t, counter.calls())
			assert.Zero(t, invoker.calls())
		}
	})

	t.Run("StoreFailureGatesInvoke", func(t *testing.T) {
		cause := errors.New("throttled")
		counter := &recordingStore{err: cause}
		invoker := &recordingInvoker{}
		h := newTestHandler(t, counter, invoker)

		out, err := h.Handle(ctx, []byte(`{"path":"/home"}`))
		require.Nil(t, out)
		require.ErrorIs(t, err, cause)
		var storeErr *common.StoreError
		require.ErrorAs(t, err, &storeErr)
		assert.Equal(t, "/home", storeErr.Key)
		stage, _ := FailedStage(err)
		assert.Equal(t, StageDecoded, stage)
		assert.Zero(t, invoker.calls())
	})

	t.Run("InvokeFailureKeepsIncrement", func(t *testing.T) {
		counter, err := store.NewMemoryCounter()
		require.NoError(t, err)
		cause := errors.New("connection reset")
		invoker := &recordingInvoker{err: cause}
		h := newTestHandler(t, counter, invoker)

		for i := 0; i < 3; i++ {
			out, err := h.Handle(ctx, []byte(`{"path":"/flaky"}`))
			require.Nil(t, out)
			require.ErrorIs(t, err, cause)
			require.True(t, common.IsInvokeError(err))
			stage, _ := FailedStage(err)
			assert.Equal(t, StageIncremented, stage)
		}
		assert.Equal(t, int64(3), counter.Value("/flaky"))
		assert.Equal(t, 3, invoker.calls())
	})

	t.Run("MalformedResponse", func(t *testing.T) {
		counter, err := store.NewMemoryCounter()
		require.NoError(t, err)
		invoker := &recordingInvoker{response: []byte(`{"truncated":`)}
		h := newTestHandler(t, counter, invoker)

		out, err := h.Handle(ctx, []byte(`{"path":"/home"}`))
		require.Nil(t, out)
		var decodeErr *common.DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, common.DecodeSourceResponse, decodeErr.Source)
		stage, _ := FailedStage(err)
		assert.Equal(t, StageInvoked, stage)
		assert.Equal(t, int64(1), counter.Value("/home"))
	})

	t.Run("EmptyResponse", func(t *testing.T) {
		counter := &recordingStore{}
		invoker := &recordingInvoker{response: []byte{}}
		h := newTestHandler(t, counter, invoker)

		out, err := h.Handle(ctx, []byte(`{"path":"/home"}`))
		require.Nil(t, out)
		require.ErrorIs(t, err, common.ErrEmptyPayload)
		assert.True(t, common.IsInvokeError(err))
		stage, _ := FailedStage(err)
		assert.Equal(t, StageIncremented, stage)
	})

	t.Run("EmptyResponseFromInvoker", func(t *testing.T) {
		counter := &recordingStore{}
		invoker := &recordingInvoker{err: common.NewInvokeError("downstream-fn", common.ErrEmptyPayload)}
		h := newTestHandler(t, counter, invoker)

		_, err := h.Handle(ctx, []byte(`{"path":"/home"}`))
		require.ErrorIs(t, err, common.ErrEmptyPayload)
		stage, _ := FailedStage(err)
		assert.Equal(t, StageIncremented, stage)
	})

	t.Run("ConcurrentSamePath", func(t *testing.T) {
		counter, err := store.NewMemoryCounter()
		require.NoError(t, err)
		h := newTestHandler(t, counter, &recordingInvoker{})

		total := 200
		var wg sync.WaitGroup
		for i := 0; i < total; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.Handle(ctx, []byte(`{"path":"/busy"}`))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(total), counter.Value("/busy"))
	})
}

// failingLambda reports a function error for every call.
type failingLambda struct{}

func (failingLambda) Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error) {
	return &awslambda.InvokeOutput{
		StatusCode:    200,
		FunctionError: aws.String("Unhandled"),
		Payload:       []byte(`{"errorMessage":"boom"}`),
	}, nil
}

func TestHandlerLogsFailureOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := &common.Logger{Logger: otelzap.New(zap.New(core))}
	tracer := noop.NewTracerProvider().Tracer("test.handler")

	counter, err := store.NewMemoryCounter()
	require.NoError(t, err)
	invoker, err := invoke.NewLambdaInvoker(failingLambda{}, tracer, logger)
	require.NoError(t, err)
	h, err := NewHandler(counter, invoker, "downstream-fn", tracer, logger)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), []byte(`{"path":"/home"}`))
	require.ErrorIs(t, err, common.ErrFunctionError)

	errorLogs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errorLogs, 1)
	assert.Equal(t, "invoke downstream failed", errorLogs[0].Message)
}

func TestNewHandler(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test.handler")
	logger := common.NewNopLogger()

	_, err := NewHandler(nil, &recordingInvoker{}, "fn", tracer, logger)
	require.Error(t, err)
	_, err = NewHandler(&recordingStore{}, nil, "fn", tracer, logger)
	require.Error(t, err)
	_, err = NewHandler(&recordingStore{}, &recordingInvoker{}, "", tracer, logger)
	require.ErrorIs(t, err, common.ErrEmptyTarget)
	_, err = NewHandler(&recordingStore{}, &recordingInvoker{}, "fn", tracer, logger, WithSpanName(""))
	require.Error(t, err)

	h, err := NewHandler(&recordingStore{}, &recordingInvoker{}, "fn", tracer, logger, WithSpanName("custom"))
	require.NoError(t, err)
	assert.Equal(t, "fn", h.Target())
}

func TestStage(t *testing.T) {
	assert.Equal(t, "start", StageStart.String())
	assert.Equal(t, "done", StageDone.String())
	assert.Equal(t, "stage(9)", Stage(9).String())

	_, ok := FailedStage(errors.New("plain"))
	assert.False(t, ok)
}
