package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"github.com/pnvasko/hit-counter/common"
	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	DefaultPoolSize        = 4
	DefaultPoolSizePerPool = 64

	defaultPoolReleaseTimeout = 5 * time.Second

	maxServiceErrorLength = 1024
)

var serviceErrorReplacer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Handler is the invocation entry point hosted by NATS and Lambda.
type Handler interface {
	Handle(ctx context.Context, raw json.RawMessage) (json.RawMessage, error)
}

type NatsResponderOption func(*NatsResponder) error

func WithQueueGroup(queue string) NatsResponderOption {
	return func(r *NatsResponder) error {
		r.queue = queue
		return nil
	}
}

func WithPoolSize(n int) NatsResponderOption {
	return func(r *NatsResponder) error {
		if n <= 0 {
			return fmt.Errorf("pool size must be positive, got %d", n)
		}
		r.poolSize = n
		return nil
	}
}

func WithPoolSizePerPool(n int) NatsResponderOption {
	return func(r *NatsResponder) error {
		if n <= 0 {
			return fmt.Errorf("pool size per pool must be positive, got %d", n)
		}
		r.poolSizePerPool = n
		return nil
	}
}

// NatsResponder serves handler invocations as NATS requests on one subject.
// Each request runs on the worker pool; the reply carries the handler
// result, or the nats micro error headers when the invocation failed.
type NatsResponder struct {
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closing   bool

	nc      *nats.Conn
	subject string
	queue   string
	name    string

	poolSize        int
	poolSizePerPool int
	pool            *ants.MultiPoolWithFunc

	inflight *atomic.Int64
	handled  *atomic.Uint64
	failed   *atomic.Uint64

	handler Handler
	tracer  trace.Tracer
	logger  *common.Logger
}

func NewNatsResponder(ctx context.Context, nc *nats.Conn, subject string, handler Handler, tracer trace.Tracer, logger *common.Logger, opts ...NatsResponderOption) (*NatsResponder, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	r := &NatsResponder{
		nc:              nc,
		subject:         subject,
		poolSize:        DefaultPoolSize,
		poolSizePerPool: DefaultPoolSizePerPool,
		inflight:        atomic.NewInt64(0),
		handled:         atomic.NewUint64(0),
		failed:          atomic.NewUint64(0),
		handler:         handler,
		tracer:          tracer,
		logger:          logger,
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.name = fmt.Sprintf("nats responder on subject: [%s]", r.subject)

	var err error
	r.pool, err = ants.NewMultiPoolWithFunc(r.poolSize, r.poolSizePerPool, func(im interface{}) {
		defer r.wg.Done()
		msg, ok := im.(*nats.Msg)
		if !ok {
			r.logger.Ctx(r.ctx).Sugar().Errorf("nats responder input is %T, not *nats.Msg", im)
			return
		}
		r.serve(msg)
	}, ants.RoundRobin)
	if err != nil {
		return nil, fmt.Errorf("create responder pool: %w", err)
	}
	return r, nil
}

func (r *NatsResponder) Name() string {
	return r.name
}

func (r *NatsResponder) InFlight() int64 {
	return r.inflight.Load()
}

func (r *NatsResponder) Handled() uint64 {
	return r.handled.Load()
}

func (r *NatsResponder) Failed() uint64 {
	return r.failed.Load()
}

// Run subscribes and blocks until the responder is closed or its context
// ends, then drains the subscription.
func (r *NatsResponder) Run() error {
	var (
		sub *nats.Subscription
		err error
	)
	if r.queue != "" {
		sub, err = r.nc.QueueSubscribe(r.subject, r.queue, r.dispatch)
	} else {
		sub, err = r.nc.Subscribe(r.subject, r.dispatch)
	}
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", r.subject, err)
	}
	if err := r.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription %q: %w", r.subject, err)
	}
	r.logger.Ctx(r.ctx).Info("nats responder started", zap.String("subject", r.subject), zap.String("queue", r.queue))

	<-r.ctx.Done()

	if err := sub.Drain(); err != nil && r.nc.IsConnected() {
		r.logger.Ctx(r.ctx).Warn("nats responder drain failed", zap.Error(err))
	}
	return nil
}

// Close stops accepting requests and waits for in-flight ones or ctx.
func (r *NatsResponder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.closeMu.Lock()
		r.closing = true
		r.closeMu.Unlock()
		r.cancel()
	})

	waitChan := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitChan:
	}

	if err := r.pool.ReleaseTimeout(defaultPoolReleaseTimeout); err != nil {
		return fmt.Errorf("release responder pool: %w", err)
	}
	return nil
}

func (r *NatsResponder) dispatch(msg *nats.Msg) {
	r.closeMu.RLock()
	if r.closing || r.ctx.Err() != nil {
		r.closeMu.RUnlock()
		r.reply(r.ctx, msg, "", nil, fmt.Errorf("responder is closing"))
		return
	}
	r.wg.Add(1)
	r.closeMu.RUnlock()

	if err := r.pool.Invoke(msg); err != nil {
		r.wg.Done()
		r.logger.Ctx(r.ctx).Error("nats responder failed to submit request", zap.Error(err))
		r.reply(r.ctx, msg, "", nil, err)
	}
}

func (r *NatsResponder) serve(msg *nats.Msg) {
	r.inflight.Inc()
	defer r.inflight.Dec()

	// In-flight requests outlive Close; only new requests are refused.
	ctx := otel.GetTextMapPropagator().Extract(context.WithoutCancel(r.ctx), propagation.HeaderCarrier(msg.Header))
	requestID := msg.Header.Get(common.RequestIDHeader)
	if requestID == "" {
		requestID = xid.New().String()
	}

	ctx, span := r.tracer.Start(ctx, "hit_counter.nats.serve",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Subject),
			attribute.String("hit_counter.request_id", requestID),
		),
	)
	defer span.End()

	defer func() {
		if x := recover(); x != nil {
			err := fmt.Errorf("handler panic: %v", x)
			r.logger.Ctx(ctx).Error("nats responder recovered panic", zap.Error(err))
			span.SetStatus(codes.Error, err.Error())
			r.failed.Inc()
			r.reply(ctx, msg, requestID, nil, err)
		}
	}()

	out, err := r.handler.Handle(ctx, msg.Data)
	if err != nil {
		r.failed.Inc()
		span.SetStatus(codes.Error, err.Error())
	} else {
		r.handled.Inc()
	}
	r.reply(ctx, msg, requestID, out, err)
}

func (r *NatsResponder) reply(ctx context.Context, msg *nats.Msg, requestID string, out []byte, err error) {
	if msg.Reply == "" {
		return
	}
	reply := nats.NewMsg(msg.Reply)
	if requestID != "" {
		reply.Header.Set(common.RequestIDHeader, requestID)
	}
	if err != nil {
		reply.Header.Set(common.ServiceErrorHeader, ServiceErrorDescription(err))
		reply.Header.Set(common.ServiceErrorCodeHeader, strconv.Itoa(ErrorCode(err)))
	} else {
		reply.Data = out
	}
	if err := msg.RespondMsg(reply); err != nil {
		r.logger.Ctx(ctx).Error("nats responder reply failed", zap.Error(err), zap.String("request_id", requestID))
	}
}

// ServiceErrorDescription flattens err into a single header line no longer
// than maxServiceErrorLength bytes.
func ServiceErrorDescription(err error) string {
	description := serviceErrorReplacer.Replace(err.Error())
	if len(description) > maxServiceErrorLength {
		description = strings.ToValidUTF8(description[:maxServiceErrorLength], "")
	}
	return description
}

// ErrorCode maps an invocation failure to the status code sent in
// Nats-Service-Error-Code.
func ErrorCode(err error) int {
	var decodeErr *common.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		if decodeErr.Source == common.DecodeSourceResponse {
			return 502
		}
		return 400
	case common.IsStoreError(err):
		return 503
	case common.IsInvokeError(err):
		return 502
	default:
		return 500
	}
}
