// Package storage reads captured content items from S3.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prsnl/kgraph/internal/pipeline"
	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/common"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	DefaultPrefix = "content"
	// maxObjectSize caps how much of a content object is read.
	maxObjectSize = 16 << 20
)

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnvString("AWS_ENDPOINT", "")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Content serves content items stored as JSON objects at
// <prefix>/<id>.json.
type S3Content struct {
	client objectGetter
	bucket string
	prefix string
}

var _ pipeline.ContentSource = (*S3Content)(nil)

func NewS3Content(client objectGetter, bucket, prefix string) *S3Content {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &S3Content{client: client, bucket: bucket, prefix: strings.TrimSuffix(prefix, "/")}
}

func (s *S3Content) key(id string) string {
	return s.prefix + "/" + id + ".json"
}

func (s *S3Content) Content(ctx context.Context, id string) (pipeline.ContentItem, error) {
	if id == "" || strings.ContainsAny(id, "/\\") {
		return pipeline.ContentItem{}, common.NewValidationError("content_id", "invalid id %q", id)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return pipeline.ContentItem{}, common.NewNotFoundError("content", id)
	}
	if err != nil {
		return pipeline.ContentItem{}, fmt.Errorf("failed to get content from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize))
	if err != nil {
		return pipeline.ContentItem{}, fmt.Errorf("failed to read content object: %w", err)
	}
	var item pipeline.ContentItem
	if err := json.Unmarshal(data, &item); err != nil {
		return pipeline.ContentItem{}, fmt.Errorf("failed to decode content %s: %w", id, err)
	}
	if item.ID == "" {
		item.ID = id
	}
	return item, nil
}
