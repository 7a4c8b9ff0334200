package hit_counter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pnvasko/hit-counter/common"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CounterStore adds one to the hit counter of key with a single atomic
// update evaluated by the store.
type CounterStore interface {
	Incr(ctx context.Context, key string) error
}

// Invoker synchronously runs the named target with payload and returns its
// response payload.
type Invoker interface {
	Invoke(ctx context.Context, target string, payload []byte) ([]byte, error)
}

type Stage int

const (
	StageStart Stage = iota
	StageDecoded
	StageIncremented
	StageInvoked
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageDecoded:
		return "decoded"
	case StageIncremented:
		return "incremented"
	case StageInvoked:
		return "invoked"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageError is the Failed state: Stage is the last state reached before
// the failure.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("hit counter failed after %s: %s", e.Stage, e.Err.Error())
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return StageStart, false
}

type HandlerOption func(*Handler) error

func WithSpanName(name string) HandlerOption {
	return func(h *Handler) error {
		if name == "" {
			return fmt.Errorf("span name cannot be empty")
		}
		h.spanName = name
		return nil
	}
}

const defaultHandlerSpanName = "hit_counter.handle"

// Handler counts a hit for the event path and relays the event to the
// downstream target. A Handler has no mutable state and is shared by all
// concurrent invocations.
type Handler struct {
	store    CounterStore
	invoker  Invoker
	target   string
	spanName string

	tracer trace.Tracer
	logger *common.Logger
}

func NewHandler(store CounterStore, invoker Invoker, target string, tracer trace.Tracer, logger *common.Logger, opts ...HandlerOption) (*Handler, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if target == "" {
		return nil, common.ErrEmptyTarget
	}
	h := &Handler{
		store:    store,
		invoker:  invoker,
		target:   target,
		spanName: defaultHandlerSpanName,
		tracer:   tracer,
		logger:   logger,
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Handler) Target() string {
	return h.target
}

// Handle runs one invocation: decode, increment, invoke, decode response.
// The increment is not undone when a later step fails.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	ctx, span := h.tracer.Start(ctx, h.spanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(semconv.FaaSInvokedNameKey.String(h.target)),
	)
	defer span.End()

	stage := StageStart
	fail := func(description string, err error) error {
		return common.SetLogError(ctx, description, &StageError{Stage: stage, Err: err}, h.logger,
			attribute.String("hit_counter.stage", stage.String()))
	}

	event, err := DecodeEvent(raw)
	if err != nil {
		return nil, fail("decode event failed", err)
	}
	stage = StageDecoded
	span.SetAttributes(attribute.String("hit_counter.path", event.Path))

	if err := h.increment(ctx, event.Path); err != nil {
		return nil, fail("increment hit count failed", err)
	}
	stage = StageIncremented

	payload, err := h.invoke(ctx, event.Raw())
	if err != nil {
		return nil, fail("invoke downstream failed", err)
	}
	stage = StageInvoked

	result, err := decodeResponse(payload)
	if err != nil {
		return nil, fail("decode downstream response failed", err)
	}
	stage = StageDone
	span.SetAttributes(attribute.String("hit_counter.stage", stage.String()))

	return result, nil
}

func (h *Handler) increment(ctx context.Context, path string) error {
	ctx, span := h.tracer.Start(ctx, "hit_counter.increment", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	h.logger.Ctx(ctx).Info("incrementing hit count", zap.String("path", path))
	if err := h.store.Incr(ctx, path); err != nil {
		if !common.IsStoreError(err) {
			err = common.NewStoreError(path, err)
		}
		span.RecordError(err)
		return err
	}
	return nil
}

func (h *Handler) invoke(ctx context.Context, payload []byte) ([]byte, error) {
	ctx, span := h.tracer.Start(ctx, "hit_counter.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(semconv.FaaSInvokedNameKey.String(h.target)),
	)
	defer span.End()

	h.logger.Ctx(ctx).Info("invoking downstream", zap.String("target", h.target), zap.Int("payload_size", len(payload)))
	response, err := h.invoker.Invoke(ctx, h.target, payload)
	if err != nil {
		if !common.IsInvokeError(err) {
			err = common.NewInvokeError(h.target, err)
		}
		span.RecordError(err)
		return nil, err
	}
	// An empty reply is the invoker's failure whichever backend produced it.
	if len(response) == 0 {
		err := common.NewInvokeError(h.target, common.ErrEmptyPayload)
		span.RecordError(err)
		return nil, err
	}
	return response, nil
}
