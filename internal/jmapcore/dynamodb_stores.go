package jmapcore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key prefixes for the jmapcore slice of the shared single-table design,
// following the ACCOUNT#/USER#/META# convention already used by internal/db.
const (
	skModseqPrefix = "MODSEQ#"
	skMailbox      = "MAILBOX#"
	skACL          = "ACL#"
)

// DynamoDBClient is the subset of the DynamoDB SDK client jmapcore's stores
// need; satisfied by *dynamodb.Client.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDBStateStore reads and bumps MODSEQ# records in the shared table.
type DynamoDBStateStore struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBStateStore builds a StateStore backed by an already-configured
// DynamoDB client.
func NewDynamoDBStateStore(client DynamoDBClient, tableName string) *DynamoDBStateStore {
	return &DynamoDBStateStore{client: client, tableName: tableName}
}

type modseqRecord struct {
	Modseq uint64 `dynamodbav:"modseq"`
}

// Modseq implements StateStore.
func (s *DynamoDBStateStore) Modseq(ctx context.Context, accountID, typeName string) (uint64, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		"pk": "ACCOUNT#" + accountID,
		"sk": skModseqPrefix + typeName,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal modseq key: %w", err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       key,
	})
	if err != nil {
		return 0, err
	}
	if out.Item == nil {
		return 0, nil
	}
	var record modseqRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return 0, fmt.Errorf("unmarshal modseq record: %w", err)
	}
	return record.Modseq, nil
}

// Bump increments the mod-sequence for accountID/typeName and returns its
// new value, called by a handler after any mutation that changes a type's
// state (spec §4.10).
func (s *DynamoDBStateStore) Bump(ctx context.Context, accountID, typeName string) (uint64, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		"pk": "ACCOUNT#" + accountID,
		"sk": skModseqPrefix + typeName,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal modseq key: %w", err)
	}
	update := expression.Add(expression.Name("modseq"), expression.Value(1))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return 0, fmt.Errorf("build modseq update expression: %w", err)
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, err
	}
	var record modseqRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &record); err != nil {
		return 0, fmt.Errorf("unmarshal modseq record: %w", err)
	}
	return record.Modseq, nil
}

// DynamoDBRightsStore reads ACL# records from the shared table.
type DynamoDBRightsStore struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBRightsStore builds a RightsStore backed by an already-configured
// DynamoDB client.
func NewDynamoDBRightsStore(client DynamoDBClient, tableName string) *DynamoDBRightsStore {
	return &DynamoDBRightsStore{client: client, tableName: tableName}
}

type aclRecord struct {
	Rights uint32 `dynamodbav:"rights"`
}

// Rights implements RightsStore.
func (s *DynamoDBRightsStore) Rights(ctx context.Context, accountID, mailbox string) (Rights, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		"pk": "ACCOUNT#" + accountID,
		"sk": skACL + mailbox,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal acl key: %w", err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       key,
	})
	if err != nil {
		return 0, err
	}
	if out.Item == nil {
		return 0, nil
	}
	var record aclRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return 0, fmt.Errorf("unmarshal acl record: %w", err)
	}
	return Rights(record.Rights), nil
}

// DynamoDBMailboxStore opens and commits MAILBOX# records. Because the
// dispatcher's concurrency model is single-threaded and cooperative per
// request (spec §5), this store does not need a distributed lock: Open
// reads the record, Commit writes back whatever the handler staged on the
// handle, and Abort discards the staged write.
type DynamoDBMailboxStore struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBMailboxStore builds a MailboxStore backed by an
// already-configured DynamoDB client.
func NewDynamoDBMailboxStore(client DynamoDBClient, tableName string) *DynamoDBMailboxStore {
	return &DynamoDBMailboxStore{client: client, tableName: tableName}
}

type mailboxRecord struct {
	Name string         `dynamodbav:"name"`
	Data map[string]any `dynamodbav:"data"`
}

// Open implements MailboxStore.
func (s *DynamoDBMailboxStore) Open(ctx context.Context, accountID, name string, rw bool) (*MailboxHandle, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		"pk": "ACCOUNT#" + accountID,
		"sk": skMailbox + name,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal mailbox key: %w", err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       key,
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, NotFoundErr()
	}
	var record mailboxRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("unmarshal mailbox record: %w", err)
	}
	return &MailboxHandle{AccountID: accountID, Name: name, RW: rw, Data: record.Data}, nil
}

// Commit implements MailboxStore. Read-only handles are never written back.
func (s *DynamoDBMailboxStore) Commit(ctx context.Context, handle *MailboxHandle) error {
	if !handle.RW {
		return nil
	}
	data, ok := handle.Data.(map[string]any)
	if !ok {
		data = map[string]any{}
	}
	key, err := attributevalue.MarshalMap(map[string]string{
		"pk": "ACCOUNT#" + handle.AccountID,
		"sk": skMailbox + handle.Name,
	})
	if err != nil {
		return fmt.Errorf("marshal mailbox key: %w", err)
	}
	update := expression.Set(expression.Name("data"), expression.Value(data)).
		Set(expression.Name("name"), expression.Value(handle.Name))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("build mailbox update expression: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

// Abort implements MailboxStore: nothing was ever written, so there is
// nothing to undo.
func (s *DynamoDBMailboxStore) Abort(ctx context.Context, handle *MailboxHandle) error {
	return nil
}
