// Package awsinit centralizes the cold-start sequence every Lambda
// entrypoint repeats: install the X-Ray tracer provider and propagator,
// load the AWS SDK config with the OTel middleware attached, and open a
// "ColdStart" span covering the rest of init().
package awsinit

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/jarrod-lowe/jmap-service-core/internal/tracing"
)

type options struct {
	handlerName string
}

// Option configures Init.
type Option func(*options)

// WithHTTPHandler names the Lambda function for the cold-start span and for
// otellambda's handler instrumentation, overriding the AWS_LAMBDA_FUNCTION_NAME
// environment variable.
func WithHTTPHandler(name string) Option {
	return func(o *options) { o.handlerName = name }
}

// Result carries everything main() needs after cold-start init: the loaded
// AWS config, a context still holding the open cold-start span, and helpers
// to close it out and start the Lambda runtime loop.
type Result struct {
	Config aws.Config
	Ctx    context.Context

	tp        *sdktrace.TracerProvider
	coldStart trace.Span
}

// Init runs the shared cold-start sequence: tracer provider, propagator,
// AWS config (instrumented with otelaws), and a "ColdStart" span. Callers
// must call Result.Cleanup via defer, and Result.Start to hand the handler
// to the Lambda runtime.
func Init(ctx context.Context, opts ...Option) (*Result, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tp, err := tracing.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	tracing.InitPropagator()

	functionName := o.handlerName
	if functionName == "" {
		functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	}
	ctx, coldStart := tracing.StartColdStartSpan(ctx, functionName)

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		coldStart.End()
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return &Result{
		Config:    cfg,
		Ctx:       ctx,
		tp:        tp,
		coldStart: coldStart,
	}, nil
}

// Cleanup ends the cold-start span and flushes the tracer provider. Call via
// defer immediately after Init.
func (r *Result) Cleanup() {
	if r.coldStart != nil {
		r.coldStart.End()
	}
	if r.tp != nil {
		_ = r.tp.Shutdown(context.Background())
	}
}

// Start instruments handler with otellambda and hands it to the Lambda
// runtime, using the X-Ray-recommended options for the installed tracer
// provider.
func (r *Result) Start(handler any) {
	lambda.Start(otellambda.InstrumentHandler(handler, xrayconfig.WithRecommendedOptions(r.tp)...))
}
