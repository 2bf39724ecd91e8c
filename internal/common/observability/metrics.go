package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider    *metric.MeterProvider
	meter            otelmetric.Meter
	mutationCounter  otelmetric.Int64Counter
	mutationDuration otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	mutationCounter, _ := meter.Int64Counter(
		"store.mutations",
		otelmetric.WithDescription("Number of guarded mutations executed"),
	)

	mutationDuration, _ := meter.Float64Histogram(
		"store.mutation.duration",
		otelmetric.WithDescription("Guarded mutation duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:    provider,
		meter:            meter,
		mutationCounter:  mutationCounter,
		mutationDuration: mutationDuration,
	}
}

func (o *Observability) RecordMutation(ctx context.Context, operation, outcome string) {
	if o.mutationCounter != nil {
		o.mutationCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) RecordMutationDuration(ctx context.Context, operation string, duration time.Duration) {
	if o.mutationDuration != nil {
		o.mutationDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
