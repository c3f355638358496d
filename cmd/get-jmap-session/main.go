package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jarrod-lowe/jmap-service-core/internal/db"
	"github.com/jarrod-lowe/jmap-service-core/internal/jmapcore"
	"github.com/jarrod-lowe/jmap-service-core/internal/plugin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
)

// accountStateTypes lists the data types whose mod-sequence feeds the
// Session resource's top-level "state" string (spec §3, §6).
var accountStateTypes = []string{"Mailbox", "Email", "Thread"}

// AccountStore defines the interface for account operations
type AccountStore interface {
	EnsureAccount(ctx context.Context, userID string) (*db.Account, error)
}

// accountStore is the package-level account store (injectable for testing)
var accountStore AccountStore

// pluginRegistry holds loaded plugin configuration (injectable for testing)
var pluginRegistry *plugin.Registry

// stateStore feeds the Session resource's top-level "state" string
// (injectable for testing).
var stateStore jmapcore.StateStore

// JMAPSession is an alias kept for the package's existing call sites and
// tests; the Session resource itself is built by internal/jmapcore.
type JMAPSession = jmapcore.Session

// Account is an alias kept for the package's existing call sites and tests.
type Account = jmapcore.Account

// Response is the API Gateway proxy response
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// Config holds application configuration
type Config struct {
	APIDomain string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() Config {
	domain := os.Getenv("API_DOMAIN")
	if domain == "" {
		domain = "localhost"
	}
	return Config{APIDomain: domain}
}

var config = LoadConfig()

func handler(ctx context.Context, request events.APIGatewayProxyRequest) (Response, error) {
	tracer := otel.Tracer("jmap-get-session")
	ctx, span := tracer.Start(ctx, "GetJmapSessionHandler")
	defer span.End()

	span.SetAttributes(
		attribute.String("function", "get-jmap-session"),
		attribute.String("request_id", request.RequestContext.RequestID),
	)

	// Extract sub claim from Cognito authorizer
	userID, err := extractSubClaim(request)
	if err != nil {
		logger.WarnContext(ctx, "Missing or invalid sub claim",
			slog.String("request_id", request.RequestContext.RequestID),
			slog.String("error", err.Error()),
		)
		return Response{
			StatusCode: 401,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"Unauthorized","message":"Missing or invalid authentication"}`,
		}, nil
	}

	span.SetAttributes(attribute.String("account_id", userID))

	logger.InfoContext(ctx, "Processing session request",
		slog.String("request_id", request.RequestContext.RequestID),
		slog.String("account_id", userID),
	)

	// Ensure account exists and update lastDiscoveryAccess
	_, err = accountStore.EnsureAccount(ctx, userID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to ensure account",
			slog.String("request_id", request.RequestContext.RequestID),
			slog.String("account_id", userID),
			slog.String("error", err.Error()),
		)
		return Response{
			StatusCode: 500,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"Internal server error"}`,
		}, nil
	}

	session := buildSession(userID, config, pluginRegistry)

	bodyJSON, err := json.Marshal(session)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to marshal session",
			slog.String("error", err.Error()),
		)
		return Response{
			StatusCode: 500,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"Internal server error"}`,
		}, nil
	}

	logger.InfoContext(ctx, "Session request completed",
		slog.String("request_id", request.RequestContext.RequestID),
		slog.String("account_id", userID),
	)

	return Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(bodyJSON),
	}, nil
}

func extractSubClaim(request events.APIGatewayProxyRequest) (string, error) {
	authorizer := request.RequestContext.Authorizer
	if authorizer == nil {
		return "", fmt.Errorf("no authorizer context")
	}

	claims, ok := authorizer["claims"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("no claims in authorizer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("sub claim not found or empty")
	}

	return sub, nil
}

// buildSession renders the Session resource via internal/jmapcore.BuildSession.
// A nil stateStore (as in tests that construct it directly) falls back to
// state "0" rather than failing the request.
func buildSession(userID string, cfg Config, registry *plugin.Registry) JMAPSession {
	sessionCfg := jmapcore.SessionConfig{APIDomain: cfg.APIDomain}

	// A nil *plugin.Registry must become a true nil interface, not an
	// interface wrapping a nil pointer, or BuildSession's "plugins != nil"
	// check would call into a nil receiver.
	var capLister jmapcore.CapabilityLister
	if registry != nil {
		capLister = registry
	}

	store := stateStore
	if store == nil {
		store = zeroStateStore{}
	}

	session, err := jmapcore.BuildSession(context.Background(), sessionCfg, store, capLister, userID, userID, accountStateTypes)
	if err != nil {
		logger.Error("Failed to compute session state", slog.String("error", err.Error()))
		session, _ = jmapcore.BuildSession(context.Background(), sessionCfg, zeroStateStore{}, capLister, userID, userID, accountStateTypes)
	}
	return session
}

// zeroStateStore reports mod-sequence 0 for every type, used when no real
// StateStore has been wired (e.g. in tests that call buildSession directly).
type zeroStateStore struct{}

func (zeroStateStore) Modseq(ctx context.Context, accountID, typeName string) (uint64, error) {
	return 0, nil
}

func main() {
	ctx := context.Background()

	tp, err := xrayconfig.NewTracerProvider(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	otel.SetTracerProvider(tp)

	// Initialize DynamoDB client with OTel instrumentation
	tableName := os.Getenv("DYNAMODB_TABLE")
	if tableName == "" {
		logger.Error("FATAL: DYNAMODB_TABLE environment variable is required")
		panic("DYNAMODB_TABLE environment variable is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	dbClient := db.NewClientFromConfig(cfg, tableName)
	accountStore = dbClient

	// Load plugin registry
	pluginRegistry = plugin.NewRegistry()
	if err := pluginRegistry.LoadFromDynamoDB(ctx, dbClient); err != nil {
		logger.Error("FATAL: Failed to load plugin registry",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	stateStore = jmapcore.NewDynamoDBStateStore(dynamodb.NewFromConfig(cfg), tableName)

	lambda.Start(otellambda.InstrumentHandler(handler, xrayconfig.WithRecommendedOptions(tp)...))
}
