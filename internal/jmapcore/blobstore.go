package jmapcore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const skBlobPrefix = "BLOB#"

// BlobS3Client is the subset of the S3 SDK client DynamoDBS3BlobStore needs.
type BlobS3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type blobRecord struct {
	Size      int64  `dynamodbav:"size"`
	S3Key     string `dynamodbav:"s3Key"`
	DeletedAt string `dynamodbav:"deletedAt,omitempty"`
}

// DynamoDBS3BlobStore implements BlobStore (Blob/get, Blob/copy) over the
// same DynamoDB blob records and S3 object layout bloballocate writes at
// Blob/allocate time: one DynamoDB item per accountId/blobId tracking the
// object's S3 key and size, one S3 object under "accountId/blobId" (spec
// §4.9).
type DynamoDBS3BlobStore struct {
	ddb       DynamoDBClient
	s3        BlobS3Client
	tableName string
	bucket    string
}

// NewDynamoDBS3BlobStore builds a BlobStore backed by already-configured
// DynamoDB and S3 clients.
func NewDynamoDBS3BlobStore(ddb DynamoDBClient, s3Client BlobS3Client, tableName, bucket string) *DynamoDBS3BlobStore {
	return &DynamoDBS3BlobStore{ddb: ddb, s3: s3Client, tableName: tableName, bucket: bucket}
}

func (b *DynamoDBS3BlobStore) record(ctx context.Context, accountID string, blobID BlobID) (*blobRecord, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		"pk": "ACCOUNT#" + accountID,
		"sk": skBlobPrefix + string(blobID),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal blob key: %w", err)
	}
	out, err := b.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.tableName),
		Key:       key,
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	var record blobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("unmarshal blob record: %w", err)
	}
	if record.DeletedAt != "" {
		return nil, nil
	}
	return &record, nil
}

// GetMetadata implements BlobStore.
func (b *DynamoDBS3BlobStore) GetMetadata(ctx context.Context, accountID string, blobID BlobID) (*BlobMetadata, error) {
	record, err := b.record(ctx, accountID, blobID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	out, err := b.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch blob object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob object: %w", err)
	}
	return &BlobMetadata{Size: record.Size, Data: data}, nil
}

// Copy implements BlobStore: fetch the source blob's bytes, mint a fresh
// content-addressed id under toAccountID, and write both the S3 object and
// the DynamoDB record for the copy.
func (b *DynamoDBS3BlobStore) Copy(ctx context.Context, fromAccountID, toAccountID string, blobID BlobID) (BlobID, error) {
	meta, err := b.GetMetadata(ctx, fromAccountID, blobID)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", NotFoundErr()
	}

	newID := NewBlobID(meta.Data)
	s3Key := fmt.Sprintf("%s/%s", toAccountID, newID)
	if _, err := b.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(s3Key),
		Body:   bytes.NewReader(meta.Data),
	}); err != nil {
		return "", fmt.Errorf("write copied blob object: %w", err)
	}

	key, err := attributevalue.MarshalMap(map[string]string{
		"pk": "ACCOUNT#" + toAccountID,
		"sk": skBlobPrefix + string(newID),
	})
	if err != nil {
		return "", fmt.Errorf("marshal copied blob key: %w", err)
	}
	update := expression.Set(expression.Name("size"), expression.Value(meta.Size)).
		Set(expression.Name("s3Key"), expression.Value(s3Key))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return "", fmt.Errorf("build copied blob update expression: %w", err)
	}
	if _, err := b.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(b.tableName),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}); err != nil {
		return "", fmt.Errorf("write copied blob record: %w", err)
	}
	return newID, nil
}
