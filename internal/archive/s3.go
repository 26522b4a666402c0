package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/goccy/go-json"

	"github.com/lazypower/foresight/internal/models"
)

// S3API is the subset of *s3.Client the archive uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores archived items as objects in a bucket.
type S3 struct {
	client S3API
	bucket string
	prefix string
}

// NewS3FromEnv builds a client from the default AWS credential chain.
func NewS3FromEnv(ctx context.Context, region, bucket, prefix string) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3(s3.NewFromConfig(cfg), bucket, prefix)
}

// NewS3 wraps client.
func NewS3(client S3API, bucket, prefix string) (*S3, error) {
	if bucket == "" {
		return nil, errors.New("archive: s3 bucket is required")
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3) key(id string) string {
	return s.prefix + id + ".json"
}

// Get downloads an archived item, or nil if the object does not exist.
func (s *S3) Get(ctx context.Context, id string) (*models.Content, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", id, err)
	}
	var c models.Content
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", id, err)
	}
	return &c, nil
}

// Put uploads c, replacing any previous object.
func (s *S3) Put(ctx context.Context, c *models.Content) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode archive %s: %w", c.ID, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(c.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", c.ID, err)
	}
	return nil
}

// Delete removes an archived item. S3 treats a missing key as success.
func (s *S3) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", id, err)
	}
	return nil
}
