package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Endpoint is one otlp collector, grpc wins when both urls are set.
type Endpoint struct {
	GrpcURL string            `json:"grpc_endpoint"`
	HttpURL string            `json:"http_endpoint"`
	Headers map[string]string `json:"headers"`
}

func (e Endpoint) enabled() bool {
	return e.GrpcURL != "" || e.HttpURL != ""
}

func (e Endpoint) protocol() string {
	if e.GrpcURL != "" {
		return "grpc"
	}
	return "http"
}

type Config struct {
	Traces  Endpoint `json:"traces"`
	Metrics Endpoint `json:"metrics"`
	// SampleRatio keeps that fraction of root traces, anything outside (0, 1)
	// keeps all of them.
	SampleRatio float64 `json:"sample_ratio" env:"OTLP_SAMPLE_RATIO"`
	// MetricIntervalSeconds is the export period, metrics are also flushed on
	// shutdown so short runs lose nothing.
	MetricIntervalSeconds int `json:"metric_interval_seconds" env:"OTLP_METRIC_INTERVAL"`
}

// Service describes the process in the exported resource.
type Service struct {
	Name        string
	Environment string
}

// Telemetry holds the providers installed by Setup, either may be nil when
// its exporter is not configured.
type Telemetry struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

func (t Telemetry) Enabled() bool {
	return t.TracerProvider != nil || t.MeterProvider != nil
}

// Shutdown flushes and stops both providers.
func (t Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.TracerProvider != nil {
		errs = append(errs, t.TracerProvider.Shutdown(ctx))
	}
	if t.MeterProvider != nil {
		errs = append(errs, t.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Setup installs global tracer and meter providers for every exporter that
// has an endpoint configured. Without endpoints the otel no-op providers stay
// in place, so spans and instruments are free to use unconditionally.
func Setup(ctx context.Context, service Service, config Config) (Telemetry, error) {
	var tel Telemetry
	if !config.Traces.enabled() && !config.Metrics.enabled() {
		return tel, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	res, err := newResource(service)
	if err != nil {
		return tel, err
	}

	if config.Traces.enabled() {
		tel.TracerProvider, err = newTracerProvider(ctx, res, config)
		if err != nil {
			return Telemetry{}, err
		}
		otel.SetTracerProvider(tel.TracerProvider)
	}
	if config.Metrics.enabled() {
		tel.MeterProvider, err = newMeterProvider(ctx, res, config)
		if err != nil {
			return Telemetry{}, errors.Join(err, tel.Shutdown(ctx))
		}
		otel.SetMeterProvider(tel.MeterProvider)
	}
	return tel, nil
}

func Tracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}

func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
