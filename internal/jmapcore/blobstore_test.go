package jmapcore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type capturingS3Client struct {
	GetObjectFunc func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObjectFunc func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	LastPutInput  *s3.PutObjectInput
}

func (c *capturingS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if c.GetObjectFunc != nil {
		return c.GetObjectFunc(ctx, params, optFns...)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (c *capturingS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	c.LastPutInput = params
	if c.PutObjectFunc != nil {
		return c.PutObjectFunc(ctx, params, optFns...)
	}
	return &s3.PutObjectOutput{}, nil
}

func TestDynamoDBS3BlobStore_GetMetadataMissingRecordReturnsNil(t *testing.T) {
	ddb := &capturingDynamoDBClient{}
	store := NewDynamoDBS3BlobStore(ddb, &capturingS3Client{}, "test-table", "test-bucket")

	meta, err := store.GetMetadata(context.Background(), "a1", BlobID("Gmissing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta != nil {
		t.Errorf("expected nil metadata for a missing record, got %+v", meta)
	}
}

func TestDynamoDBS3BlobStore_GetMetadataReadsObject(t *testing.T) {
	ddb := &capturingDynamoDBClient{
		GetItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{
				Item: map[string]types.AttributeValue{
					"size":  &types.AttributeValueMemberN{Value: "5"},
					"s3Key": &types.AttributeValueMemberS{Value: "a1/Gabc"},
				},
			}, nil
		},
	}
	s3Client := &capturingS3Client{
		GetObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("hello"))}, nil
		},
	}
	store := NewDynamoDBS3BlobStore(ddb, s3Client, "test-table", "test-bucket")

	meta, err := store.GetMetadata(context.Background(), "a1", BlobID("Gabc"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta == nil || meta.Size != 5 || string(meta.Data) != "hello" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestDynamoDBS3BlobStore_GetMetadataTreatsDeletedAsMissing(t *testing.T) {
	ddb := &capturingDynamoDBClient{
		GetItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{
				Item: map[string]types.AttributeValue{
					"size":      &types.AttributeValueMemberN{Value: "5"},
					"s3Key":     &types.AttributeValueMemberS{Value: "a1/Gabc"},
					"deletedAt": &types.AttributeValueMemberS{Value: "2026-01-01T00:00:00Z"},
				},
			}, nil
		},
	}
	store := NewDynamoDBS3BlobStore(ddb, &capturingS3Client{}, "test-table", "test-bucket")

	meta, err := store.GetMetadata(context.Background(), "a1", BlobID("Gabc"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta != nil {
		t.Errorf("expected nil metadata for a deleted blob, got %+v", meta)
	}
}

func TestDynamoDBS3BlobStore_GetMetadataPropagatesGetItemError(t *testing.T) {
	ddb := &capturingDynamoDBClient{
		GetItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return nil, errors.New("boom")
		},
	}
	store := NewDynamoDBS3BlobStore(ddb, &capturingS3Client{}, "test-table", "test-bucket")

	_, err := store.GetMetadata(context.Background(), "a1", BlobID("Gabc"))
	if err == nil {
		t.Fatal("expected an error when GetItem fails")
	}
}

func TestDynamoDBS3BlobStore_CopyMintsContentAddressedIDAndWritesBoth(t *testing.T) {
	ddb := &capturingDynamoDBClient{
		GetItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{
				Item: map[string]types.AttributeValue{
					"size":  &types.AttributeValueMemberN{Value: "5"},
					"s3Key": &types.AttributeValueMemberS{Value: "a0/Gsrc"},
				},
			}, nil
		},
	}
	s3Client := &capturingS3Client{
		GetObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("hello"))}, nil
		},
	}
	store := NewDynamoDBS3BlobStore(ddb, s3Client, "test-table", "test-bucket")

	newID, err := store.Copy(context.Background(), "a0", "a1", BlobID("Gsrc"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := NewBlobID([]byte("hello"))
	if newID != want {
		t.Errorf("expected copy to mint %s, got %s", want, newID)
	}
	if s3Client.LastPutInput == nil {
		t.Fatal("expected an S3 PutObject call")
	}
	if ddb.LastUpdateInput == nil {
		t.Fatal("expected a DynamoDB UpdateItem call for the new record")
	}
}

func TestDynamoDBS3BlobStore_CopyNotFoundForMissingSource(t *testing.T) {
	ddb := &capturingDynamoDBClient{}
	store := NewDynamoDBS3BlobStore(ddb, &capturingS3Client{}, "test-table", "test-bucket")

	_, err := store.Copy(context.Background(), "a0", "a1", BlobID("Gmissing"))
	if err == nil {
		t.Fatal("expected notFound for a missing source blob")
	}
}
