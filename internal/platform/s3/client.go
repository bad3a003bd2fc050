package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrObjectNotFound is returned by GetObject when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// defaultRegion rejects an explicit location constraint on CreateBucket.
const defaultRegion = "us-east-1"

// Client wraps the S3 client for the state bucket.
type Client struct {
	s3     *s3.Client
	region string
}

// NewClient creates a client signed with creds.
func NewClient(ctx context.Context, region string, creds aws.CredentialsProvider) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(creds),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{s3: s3.NewFromConfig(cfg), region: region}, nil
}

// EnsureBucket creates the bucket if needed, enables versioning and blocks
// all public access. It is safe to call repeatedly.
func (c *Client) EnsureBucket(ctx context.Context, bucketName string) error {
	if err := c.CreateBucket(ctx, bucketName); err != nil {
		return err
	}

	_, err := c.s3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucketName),
		VersioningConfiguration: &types.VersioningConfiguration{
			Status: types.BucketVersioningStatusEnabled,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable versioning on bucket %s: %w", bucketName, err)
	}

	_, err = c.s3.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: aws.String(bucketName),
		PublicAccessBlockConfiguration: &types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(true),
			BlockPublicPolicy:     aws.Bool(true),
			IgnorePublicAcls:      aws.Bool(true),
			RestrictPublicBuckets: aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to block public access on bucket %s: %w", bucketName, err)
	}
	return nil
}

// CreateBucket creates a new S3 bucket.
// Returns nil if the bucket already exists and is owned by us.
func (c *Client) CreateBucket(ctx context.Context, bucketName string) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	}
	if c.region != "" && c.region != defaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.region),
		}
	}

	_, err := c.s3.CreateBucket(ctx, input)
	if err != nil {
		if isBucketAlreadyOwnedByYou(err) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
	}
	return nil
}

// BucketExists checks if a bucket exists and is accessible.
func (c *Client) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check bucket %s: %w", bucketName, err)
	}
	return true, nil
}

// isBucketAlreadyOwnedByYou checks if the error indicates the bucket exists
// and is owned by us. A bucket owned by another account is a real failure.
func isBucketAlreadyOwnedByYou(err error) bool {
	if err == nil {
		return false
	}

	var baoby *types.BucketAlreadyOwnedByYou
	if errors.As(err, &baoby) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
	}

	return false
}

// isNotFoundError checks if the error is a not found error for a bucket or
// a key.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket", "NoSuchKey", "404":
			return true
		}
	}

	return false
}

// PutObject uploads an object with server-side encryption.
func (c *Client) PutObject(ctx context.Context, bucketName, key string, data []byte) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(bucketName),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentLength:        aws.Int64(int64(len(data))),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s in bucket %s: %w", key, bucketName, err)
	}
	return nil
}

// GetObject downloads an object. A missing key or bucket yields
// ErrObjectNotFound.
func (c *Client) GetObject(ctx context.Context, bucketName, key string) ([]byte, error) {
	result, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, bucketName, key)
		}
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", key, bucketName, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	return buf.Bytes(), nil
}

// DeleteObject deletes an object from a bucket. Deleting a missing key is
// not an error.
func (c *Client) DeleteObject(ctx context.Context, bucketName, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete object %s from bucket %s: %w", key, bucketName, err)
	}
	return nil
}
