package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-core/internal/awsinit"
	"github.com/jarrod-lowe/jmap-service-core/internal/bloballocate"
	"github.com/jarrod-lowe/jmap-service-core/internal/blobcomplete"
	"github.com/jarrod-lowe/jmap-service-core/internal/db"
	"github.com/jarrod-lowe/jmap-service-core/internal/jmapcore"
	"github.com/jarrod-lowe/jmap-service-core/internal/logging"
	"github.com/jarrod-lowe/jmap-service-core/internal/plugin"
	"github.com/jarrod-lowe/jmap-service-core/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

var logger = logging.New()

// Response is the API Gateway proxy response.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// accountStateTypes lists the data types whose mod-sequence feeds the
// Session resource's top-level "state" string (spec §3, §6).
var accountStateTypes = []string{"Mailbox", "Email", "Thread"}

// Dependencies are the handler's injectable, cold-start-built collaborators.
type Dependencies struct {
	Dispatcher    *jmapcore.Dispatcher
	SessionConfig jmapcore.SessionConfig
	StateStore    jmapcore.StateStore
	Plugins       *plugin.Registry
	MailboxStore  jmapcore.MailboxStore
	RightsStore   jmapcore.RightsStore
}

var deps *Dependencies

// handler processes a JMAP request envelope (spec §4.1, §7).
func handler(ctx context.Context, request events.APIGatewayProxyRequest) (Response, error) {
	ctx, span := tracing.StartHandlerSpan(ctx, "JmapApiHandler",
		tracing.Function("jmap-api"),
		tracing.RequestID(request.RequestContext.RequestID),
	)
	defer span.End()

	accountID, err := extractAccountID(request)
	if err != nil {
		logger.WarnContext(ctx, "Failed to extract account ID",
			slog.String("request_id", request.RequestContext.RequestID),
			slog.String("error", err.Error()),
		)
		return Response{
			StatusCode: 401,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"Unauthorized","message":"Missing or invalid authentication"}`,
		}, nil
	}
	span.SetAttributes(tracing.AccountID(accountID))

	if isIAMAuthenticatedRequest(request) {
		callerPrincipal := extractCallerPrincipal(request)
		if !deps.Plugins.IsAllowedPrincipal(callerPrincipal) {
			logger.WarnContext(ctx, "Unauthorized IAM principal",
				slog.String("request_id", request.RequestContext.RequestID),
				slog.String("caller_principal", callerPrincipal),
			)
			return Response{
				StatusCode: 403,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       `{"type":"forbidden","description":"Principal not authorized for IAM access"}`,
			}, nil
		}
	}

	var req jmapcore.Request
	if err := json.Unmarshal([]byte(request.Body), &req); err != nil {
		logger.WarnContext(ctx, "Invalid JSON in request body",
			slog.String("request_id", request.RequestContext.RequestID),
			slog.String("error", err.Error()),
		)
		return Response{
			StatusCode: 400,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"type":"urn:ietf:params:jmap:error:notJSON","status":400,"detail":"Invalid JSON in request body"}`,
		}, nil
	}

	resp, envErr := deps.Dispatcher.Dispatch(ctx, len(request.Body), req, accountID, accountID)
	if envErr != nil {
		tracing.RecordError(span, envErr)
		return Response{
			StatusCode: 400,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       fmt.Sprintf(`{"type":%q,"status":400}`, envErr.Error()),
		}, nil
	}

	state, err := jmapcore.HighestState(ctx, deps.StateStore, accountID, accountStateTypes)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to compute session state",
			slog.String("error", err.Error()),
		)
	} else {
		resp.SessionState = string(state)
	}

	bodyJSON, err := json.Marshal(resp)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to marshal response",
			slog.String("error", err.Error()),
		)
		return Response{
			StatusCode: 500,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"Internal server error"}`,
		}, nil
	}

	logger.InfoContext(ctx, "JMAP request completed",
		slog.String("request_id", request.RequestContext.RequestID),
		slog.String("account_id", accountID),
		slog.Int("method_count", len(req.MethodCalls)),
	)

	return Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(bodyJSON),
	}, nil
}

// extractAccountID extracts account ID from JWT claims or path parameter.
func extractAccountID(request events.APIGatewayProxyRequest) (string, error) {
	if accountID, ok := request.PathParameters["accountId"]; ok && accountID != "" {
		return accountID, nil
	}

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

// isIAMAuthenticatedRequest checks if the request is IAM-authenticated by
// checking if UserArn is populated in the request context.
func isIAMAuthenticatedRequest(request events.APIGatewayProxyRequest) bool {
	return request.RequestContext.Identity.UserArn != ""
}

// extractCallerPrincipal extracts the caller's IAM principal ARN from the request.
func extractCallerPrincipal(request events.APIGatewayProxyRequest) string {
	return request.RequestContext.Identity.UserArn
}

// RealUUIDGenerator generates real UUIDs for bloballocate's blob id field.
// The UUID stays the blob's id for the life of the allocation; blob-confirm
// keeps it when the S3 upload is confirmed.
type RealUUIDGenerator struct{}

// Generate generates a new UUID v4.
func (r *RealUUIDGenerator) Generate() string {
	return uuid.New().String()
}

func main() {
	result, err := awsinit.Init(context.Background())
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()
	ctx := result.Ctx

	tableName := os.Getenv("DYNAMODB_TABLE")
	if tableName == "" {
		logger.Error("FATAL: DYNAMODB_TABLE environment variable is required")
		panic("DYNAMODB_TABLE environment variable is required")
	}

	dbClient := db.NewClientFromConfig(result.Config, tableName)

	registry := plugin.NewRegistry()
	if err := registry.LoadFromDynamoDB(ctx, dbClient); err != nil {
		logger.Error("FATAL: Failed to load plugin registry",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	otelaws.AppendMiddlewares(&result.Config.APIOptions)
	lambdaClient := lambdasvc.NewFromConfig(result.Config)
	invoker := plugin.NewLambdaInvoker(lambdaClient)

	ddbClient := dynamodb.NewFromConfig(result.Config)

	stateStore := jmapcore.NewDynamoDBStateStore(ddbClient, tableName)
	rightsStore := jmapcore.NewDynamoDBRightsStore(ddbClient, tableName)
	mailboxStore := jmapcore.NewDynamoDBMailboxStore(ddbClient, tableName)

	settings := jmapcore.Settings{
		MaxSizeUpload:         parseInt64Env("MAX_SIZE_UPLOAD", 50000000),
		MaxConcurrentUpload:   parseIntEnv("MAX_CONCURRENT_UPLOAD", 4),
		MaxSizeRequest:        parseInt64Env("MAX_SIZE_REQUEST", 10000000),
		MaxConcurrentRequests: parseIntEnv("MAX_CONCURRENT_REQUESTS", 4),
		MaxCallsInRequest:     parseIntEnv("MAX_CALLS_IN_REQUEST", 16),
		MaxObjectsInGet:       parseIntEnv("MAX_OBJECTS_IN_GET", 500),
		MaxObjectsInSet:       parseIntEnv("MAX_OBJECTS_IN_SET", 500),
	}
	settings.Clamp(func(name string, value int64) {
		logger.Warn("Non-positive limit clamped to 0",
			slog.String("name", name),
			slog.Int64("value", value),
		)
	})

	blobBucket := os.Getenv("BLOB_BUCKET")
	var blobAllocator *bloballocate.Handler
	var blobCompleter *blobcomplete.Handler
	var blobStore jmapcore.BlobStore
	if blobBucket != "" {
		s3Client := s3.NewFromConfig(result.Config)
		presignClient := s3.NewPresignClient(s3Client)

		blobAllocator = &bloballocate.Handler{
			Storage:          bloballocate.NewS3Storage(presignClient, blobBucket, s3Client),
			DB:               bloballocate.NewDynamoDBStore(ddbClient, tableName),
			UUIDGen:          &RealUUIDGenerator{},
			MaxSizeUploadPut: settings.MaxSizeUpload,
			MaxPendingAllocs: parseIntEnv("MAX_PENDING_ALLOCATIONS", 4),
			URLExpirySecs:    parseInt64Env("ALLOCATION_URL_EXPIRY_SECONDS", 900),
		}
		blobStore = jmapcore.NewDynamoDBS3BlobStore(ddbClient, s3Client, tableName, blobBucket)
	}

	methodRegistry := jmapcore.NewMethodRegistry()
	jmapcore.RegisterCore(methodRegistry, blobStore, blobAllocator, blobCompleter)

	dispatcher := &jmapcore.Dispatcher{
		Registry:    methodRegistry,
		Plugins:     registry,
		Invoker:     invoker,
		Settings:    settings,
		ServiceName: "jmap-api",
		NewContext: func(ctx context.Context, userID, accountID string, createdIDs map[string]string) *jmapcore.RequestContext {
			return jmapcore.NewRequestContext(
				userID, accountID,
				jmapcore.NewMailboxCache(mailboxStore),
				jmapcore.NewRightsCache(rightsStore),
				methodRegistry,
				createdIDs,
			)
		},
	}

	deps = &Dependencies{
		Dispatcher:    dispatcher,
		SessionConfig: jmapcore.SessionConfig{APIDomain: os.Getenv("API_DOMAIN"), Settings: settings},
		StateStore:    stateStore,
		Plugins:       registry,
		MailboxStore:  mailboxStore,
		RightsStore:   rightsStore,
	}

	result.Start(handler)
}

func parseInt64Env(name string, fallback int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(name), 10, 64)
	if err != nil || v == 0 {
		return fallback
	}
	return v
}

func parseIntEnv(name string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil || v == 0 {
		return fallback
	}
	return v
}
