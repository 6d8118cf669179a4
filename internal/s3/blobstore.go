// Package s3 stores vault ciphertext blobs in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kenneth/zk-vault/internal/config"
	"github.com/kenneth/zk-vault/internal/store"
)

// objectAPI is the subset of *s3.Client the blob store needs.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// BlobStore implements store.BlobStore on top of an S3 bucket. Objects are
// written under an optional key prefix and carry no metadata beyond their bytes.
type BlobStore struct {
	api    objectAPI
	bucket string
	prefix string
}

var _ store.BlobStore = (*BlobStore)(nil)

// NewBlobStore creates an S3 blob store from cfg. Static credentials are used when
// configured, otherwise the default AWS credential chain applies.
func NewBlobStore(ctx context.Context, cfg *config.S3Config) (*BlobStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newBlobStore(client, cfg.Bucket, cfg.Prefix), nil
}

func newBlobStore(api objectAPI, bucket, prefix string) *BlobStore {
	return &BlobStore{api: api, bucket: bucket, prefix: prefix}
}

func (b *BlobStore) key(id string) string {
	if b.prefix == "" {
		return id
	}
	return path.Join(b.prefix, id)
}

// Put uploads a blob under a new id.
func (b *BlobStore) Put(ctx context.Context, data []byte) (string, error) {
	id := store.NewBlobID()
	key := b.key(id)
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s/%s: %w", b.bucket, key, err)
	}
	return id, nil
}

// Get downloads a blob. A missing object yields store.ErrNotFound.
func (b *BlobStore) Get(ctx context.Context, id string) ([]byte, error) {
	key := b.key(id)
	result, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s/%s: %w", b.bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s/%s: %w", b.bucket, key, err)
	}
	return data, nil
}

// Delete removes a blob. S3 deletes are idempotent, and a not-found response is ignored as well.
func (b *BlobStore) Delete(ctx context.Context, id string) error {
	key := b.key(id)
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
