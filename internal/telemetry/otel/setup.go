// Package otel wires the chat client's traces, metrics and event logs to an OTLP collector.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.uber.org/zap"

	"forum-client/internal/config"
	"forum-client/internal/logging"
)

// metricInterval is how often gateway and chat counters are pushed.
const metricInterval = 10 * time.Second

// Settings selects where client telemetry goes and how this client identifies itself.
type Settings struct {
	// Target is the collector's host:port. Empty keeps telemetry in-process.
	Target   string
	Insecure bool

	Service     string
	Version     string
	Environment string
	// Instance tells concurrent clients of one user apart; random when empty.
	Instance string

	Logger *zap.Logger
}

// FromConfig derives Settings for service at version from the client config.
func FromConfig(cfg *config.Config, service, version string, log *zap.Logger) (Settings, error) {
	target, insecure, err := cfg.OTLPTarget()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Target:      target,
		Insecure:    insecure,
		Service:     service,
		Version:     version,
		Environment: cfg.Env,
		Logger:      log,
	}, nil
}

// Providers holds the client's OpenTelemetry providers and a shutdown function.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	// Resource describes this client process on every exported signal.
	Resource *resource.Resource
	Shutdown func(context.Context) error
}

// NewProviders builds the providers for s. Without a Target they record nothing beyond the
// process and Shutdown does nothing.
func NewProviders(ctx context.Context, s Settings) (*Providers, error) {
	log := logging.OrNop(s.Logger).Named("telemetry")
	res, err := clientResource(s)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	if s.Target == "" {
		return &Providers{
			TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithResource(res)),
			MeterProvider:  metric.NewMeterProvider(metric.WithResource(res)),
			LoggerProvider: sdklog.NewLoggerProvider(sdklog.WithResource(res)),
			Resource:       res,
			Shutdown:       func(context.Context) error { return nil },
		}, nil
	}

	var stops []func(context.Context) error
	stopAll := func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			if err := stops[i](ctx); err != nil {
				log.Warn("provider shutdown", zap.Error(err))
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	abort := func(signal string, err error) (*Providers, error) {
		_ = stopAll(ctx)
		return nil, fmt.Errorf("telemetry: %s exporter for %s: %w", signal, s.Target, err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.Target)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(s.Target)}
	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(s.Target)}
	if s.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}

	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return abort("trace", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(spans), sdktrace.WithResource(res))
	stops = append(stops, tp.Shutdown)

	counters, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return abort("metric", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(counters, metric.WithInterval(metricInterval))),
	)
	stops = append(stops, mp.Shutdown)

	events, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		return abort("log", err)
	}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(events)), sdklog.WithResource(res))
	stops = append(stops, lp.Shutdown)

	log.Info("exporting telemetry",
		zap.String("target", s.Target),
		zap.Bool("insecure", s.Insecure),
		zap.String("instance", instanceOf(res)))
	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		LoggerProvider: lp,
		Resource:       res,
		Shutdown:       stopAll,
	}, nil
}

func clientResource(s Settings) (*resource.Resource, error) {
	instance := s.Instance
	if instance == "" {
		instance = uuid.NewString()
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(s.Service),
		attribute.String("service.instance.id", instance),
	}
	if s.Version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(s.Version))
	}
	if s.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment.name", s.Environment))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

func instanceOf(res *resource.Resource) string {
	v, _ := res.Set().Value("service.instance.id")
	return v.AsString()
}

// SetGlobal installs the tracer and meter providers as the process defaults, which the
// gateway and synchronizer fall back to. Events go through NewEventEmitter instead.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
}
