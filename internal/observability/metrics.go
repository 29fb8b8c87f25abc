package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/compliance-ledger/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

const meterName = "compliance-ledger"

// Provider owns the meter provider for the process
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *zap.Logger
}

// NewProvider exports metrics over OTLP gRPC when an endpoint is configured.
// Otherwise metrics are recorded into a no-op meter.
func NewProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Provider, error) {
	p := &Provider{logger: logger}

	if !cfg.Observability.MetricsEnabled || cfg.Observability.OTLPEndpoint == "" {
		logger.Info("metrics export disabled")
		p.meter = noop.NewMeterProvider().Meter(meterName)
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.Observability.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Observability.OTLPEndpoint)}
	if !cfg.IsProduction() {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(meterName)

	logger.Info("metrics export initialized", zap.String("endpoint", cfg.Observability.OTLPEndpoint))
	return p, nil
}

// Meter returns the process meter
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Shutdown flushes pending metrics
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		p.logger.Error("failed to shutdown metric provider", zap.Error(err))
		return err
	}
	return nil
}

// Metrics holds the instruments recorded by the services
type Metrics struct {
	uploads           metric.Int64Counter
	uploadBytes       metric.Int64Counter
	reviewTransitions metric.Int64Counter
	exports           metric.Int64Counter
	exportDuration    metric.Float64Histogram
	storageErrors     metric.Int64Counter
}

// NewMetrics registers the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.uploads, err = meter.Int64Counter("evidence.uploads",
		metric.WithDescription("Evidence versions uploaded"),
		metric.WithUnit("{version}")); err != nil {
		return nil, err
	}
	if m.uploadBytes, err = meter.Int64Counter("evidence.upload.size",
		metric.WithDescription("Bytes of uploaded evidence"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.reviewTransitions, err = meter.Int64Counter("evidence.review.transitions",
		metric.WithDescription("Evidence review status changes"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, err
	}
	if m.exports, err = meter.Int64Counter("exports.completed",
		metric.WithDescription("Audit exports by outcome"),
		metric.WithUnit("{export}")); err != nil {
		return nil, err
	}
	if m.exportDuration, err = meter.Float64Histogram("exports.duration",
		metric.WithDescription("Time spent building and packaging an export"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60)); err != nil {
		return nil, err
	}
	if m.storageErrors, err = meter.Int64Counter("storage.errors",
		metric.WithDescription("Content or artifact storage failures"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	return m, nil
}

// NopMetrics records nothing. Used by tests and tools.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

// EvidenceUploaded records one new version of size bytes
func (m *Metrics) EvidenceUploaded(ctx context.Context, size int64) {
	m.uploads.Add(ctx, 1)
	m.uploadBytes.Add(ctx, size)
}

// ReviewTransition records a review status change
func (m *Metrics) ReviewTransition(ctx context.Context, from, to string) {
	m.reviewTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// ExportFinished records a terminal export and how long it took
func (m *Metrics) ExportFinished(ctx context.Context, exportType, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("export_type", exportType),
		attribute.String("status", status),
	)
	m.exports.Add(ctx, 1, attrs)
	m.exportDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// StorageError records a storage failure in component (content, artifact)
func (m *Metrics) StorageError(ctx context.Context, component string) {
	m.storageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}
