package common

import (
	"context"

	"github.com/uptrace/uptrace-go/uptrace"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const TracerName = "hit_counter"

// Telemetry owns the exporters configured by InitOpentelemetry. Without a
// DSN both methods are no-ops.
type Telemetry struct {
	enabled bool
}

// InitOpentelemetry installs the X-Ray and W3C propagators and, when a DSN is
// configured, the uptrace exporters.
func InitOpentelemetry(cfg OtlpConfig) (*Telemetry, error) {
	t := &Telemetry{}

	if cfg.Dsn() != "" {
		var options []uptrace.Option
		options = append(options, uptrace.WithDSN(cfg.Dsn()))
		options = append(options, uptrace.WithTracingEnabled(true))
		options = append(options, uptrace.WithServiceName(cfg.ServiceName()),
			uptrace.WithDeploymentEnvironment(cfg.Environment()),
			uptrace.WithServiceVersion(cfg.Version()),
			uptrace.WithResourceAttributes(semconv.FaaSNameKey.String(cfg.ServiceName())),
		)
		uptrace.ConfigureOpentelemetry(options...)
		t.enabled = true
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		xray.Propagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if !t.enabled {
		return nil
	}
	return uptrace.ForceFlush(ctx)
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	if !t.enabled {
		return nil
	}
	if err := uptrace.ForceFlush(ctx); err != nil {
		return err
	}
	return uptrace.Shutdown(ctx)
}
