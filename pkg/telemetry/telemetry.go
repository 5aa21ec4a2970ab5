package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-task-lease/internal/version"
)

// Namespace groups every tasklease process under one service namespace.
const Namespace = "tasklease"

const instrumentationName = "github.com/ramiqadoumi/go-task-lease"

// Span attribute keys shared by the worker and its executors.
const (
	AttrTaskID     = attribute.Key("tasklease.task.id")
	AttrTaskPhase  = attribute.Key("tasklease.task.phase")
	AttrTaskQueue  = attribute.Key("tasklease.task.queue")
	AttrWorkerID   = attribute.Key("tasklease.worker.id")
	AttrInstanceID = attribute.Key("tasklease.worker.instance_id")
	AttrAttempt    = attribute.Key("tasklease.task.attempt")
	AttrRecovered  = attribute.Key("tasklease.task.recovered")
)

// Tracer returns the tracer for component, e.g. "worker" or "executor".
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationName + "/" + component)
}

// WorkerIdentity returns the resource attributes of one worker process. The
// instance id doubles as service.instance.id so two processes sharing a worker
// id stay distinguishable in traces.
func WorkerIdentity(workerID, instanceID string, queues []string) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceInstanceID(instanceID),
		AttrWorkerID.String(workerID),
		AttrInstanceID.String(instanceID),
		attribute.StringSlice("tasklease.worker.queues", queues),
	}
}

// InitTracer installs the global TracerProvider and TextMapPropagator.
// endpoint is an OTLP HTTP endpoint such as "localhost:4318". attrs are added
// to the process resource, see WorkerIdentity.
//
// With an empty endpoint no exporter is registered and spans are dropped by
// the no-op provider. The propagator is installed either way so trace
// context still reaches dead-letter headers.
//
// The returned shutdown flushes pending spans and must run on exit.
func InitTracer(ctx context.Context, serviceName, endpoint string, attrs ...attribute.KeyValue) (shutdown func(), err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if endpoint == "" {
		return func() {}, nil
	}

	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(NewResource(ctx, serviceName, attrs...)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

// NewResource describes this process: namespace, service name and build
// version, the host, and attrs. Falls back to the SDK default on detector
// errors.
func NewResource(ctx context.Context, serviceName string, attrs ...attribute.KeyValue) *resource.Resource {
	base := []attribute.KeyValue{
		semconv.ServiceNamespace(Namespace),
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version.Version),
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(append(base, attrs...)...),
		resource.WithHost(),
	)
	if err != nil || res == nil {
		return resource.Default()
	}
	return res
}
