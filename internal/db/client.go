package db

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// Key prefixes for single-table design
const (
	PKPrefixAccount = "ACCOUNT#"
	PKPrefixUser    = "USER#"
	SKMeta          = "META#"
)

// DynamoDBClient defines the interface for DynamoDB operations
type DynamoDBClient interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps DynamoDB operations with OTel tracing
type Client struct {
	ddb       DynamoDBClient
	tableName string
}

// NewClient creates a new DynamoDB client with OTel instrumentation
func NewClient(ctx context.Context, tableName string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Add OTel instrumentation for X-Ray tracing
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return NewClientFromConfig(cfg, tableName), nil
}

// NewClientFromConfig builds a Client from an AWS config the caller already
// loaded and instrumented, so entrypoints that share one awsinit.Init call
// across several AWS clients don't load the config twice.
func NewClientFromConfig(cfg aws.Config, tableName string) *Client {
	return &Client{
		ddb:       dynamodb.NewFromConfig(cfg),
		tableName: tableName,
	}
}

// Account represents an account record in DynamoDB
type Account struct {
	PK                  string `dynamodbav:"pk"`
	SK                  string `dynamodbav:"sk"`
	UserID              string `dynamodbav:"-"` // Derived from PK, not stored
	Owner               string `dynamodbav:"owner"`
	CreatedAt           string `dynamodbav:"createdAt"`
	LastDiscoveryAccess string `dynamodbav:"lastDiscoveryAccess"`
}

// EnsureAccount creates or updates an account record.
// Uses if_not_exists for owner and createdAt (set only on creation),
// and always updates lastDiscoveryAccess.
func (c *Client) EnsureAccount(ctx context.Context, userID string) (*Account, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	pk := PKPrefixAccount + userID
	owner := PKPrefixUser + userID

	// Build key using attributevalue
	key, err := attributevalue.MarshalMap(map[string]string{
		"pk": pk,
		"sk": SKMeta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	// Build update expression using expression builder
	update := expression.Set(
		expression.Name("owner"),
		expression.IfNotExists(expression.Name("owner"), expression.Value(owner)),
	).Set(
		expression.Name("createdAt"),
		expression.IfNotExists(expression.Name("createdAt"), expression.Value(now)),
	).Set(
		expression.Name("lastDiscoveryAccess"),
		expression.Value(now),
	)

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	}

	output, err := c.ddb.UpdateItem(ctx, input)
	if err != nil {
		return nil, err
	}

	// Unmarshal response into Account struct
	var account Account
	if err := attributevalue.UnmarshalMap(output.Attributes, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	account.UserID = userID

	return &account, nil
}

// QueryByPK returns every item sharing the given partition key, following
// pagination until DynamoDB reports no more pages. Used by the plugin
// registry to load all PLUGIN# records at cold start.
func (c *Client) QueryByPK(ctx context.Context, pk string) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key("pk").Equal(expression.Value(pk))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	var items []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue
	for {
		output, err := c.ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(c.tableName),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, output.Items...)
		if len(output.LastEvaluatedKey) == 0 {
			break
		}
		lastKey = output.LastEvaluatedKey
	}

	return items, nil
}
