// Package tracing wires the ADOT Lambda layer's X-Ray tracer provider into
// the dispatcher and Lambda handlers, and defines the span attribute keys
// shared across every entrypoint.
package tracing

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "jmap-service-core"

// Init builds the X-Ray-backed tracer provider every Lambda entrypoint installs
// as the global tracer provider during cold start.
func Init(ctx context.Context) (*sdktrace.TracerProvider, error) {
	return xrayconfig.NewTracerProvider(ctx)
}

// InitPropagator installs the composite X-Ray + W3C TraceContext propagator as
// the global propagator, so spans started under the ADOT Lambda layer carry
// across both the Lambda runtime's X-Amzn-Trace-Id header and any outbound
// HTTP calls using traceparent.
func InitPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		xray.Propagator{},
		propagation.TraceContext{},
	))
}

// RequestID tags a span with the JMAP request's identifier.
func RequestID(id string) attribute.KeyValue { return attribute.String("request_id", id) }

// AccountID tags a span with the JMAP account the call is operating on.
func AccountID(id string) attribute.KeyValue { return attribute.String("account_id", id) }

// BlobID tags a span with the blob identifier it concerns.
func BlobID(id string) attribute.KeyValue { return attribute.String("blob_id", id) }

// Function tags a span with the Lambda function name that produced it.
func Function(name string) attribute.KeyValue { return attribute.String("function", name) }

// JMAPMethod tags a span with the JMAP method name being dispatched.
func JMAPMethod(name string) attribute.KeyValue { return attribute.String("jmap.method", name) }

// JMAPClientID tags a span with the client-supplied id of the method call.
func JMAPClientID(id string) attribute.KeyValue { return attribute.String("jmap.client_id", id) }

// JMAPCallIndex tags a span with the zero-based position of the call within
// its request's methodCalls array.
func JMAPCallIndex(index int) attribute.KeyValue {
	return attribute.Int64("jmap.call_index", int64(index))
}

// StartHandlerSpan starts a span for a Lambda handler invocation using the
// global tracer provider.
func StartHandlerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// StartColdStartSpan wraps a Lambda's init-time AWS calls so they appear as
// children of a single "ColdStart" span in the trace.
func StartColdStartSpan(ctx context.Context, function string) (context.Context, trace.Span) {
	return StartHandlerSpan(ctx, "ColdStart", Function(function))
}

// StartMethodSpan starts a span for one JMAP method call within the
// dispatcher's sequential loop (spec §4.1, §5).
func StartMethodSpan(ctx context.Context, serviceName, method, clientID string, index int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(serviceName).Start(ctx, "JMAP Method")
	span.SetAttributes(JMAPMethod(method), JMAPClientID(clientID), JMAPCallIndex(index))
	return ctx, span
}

// RecordError marks span as failed and attaches err as a span event.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
