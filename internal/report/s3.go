package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the report mirror. Region and Profile fall back to the standard
// AWS configuration chain when empty.
type S3Config struct {
	Bucket  string
	Prefix  string
	Region  string
	Profile string
	// UsePathStyle forces path-style addressing for S3-compatible stores.
	UsePathStyle bool
}

// PutObjectAPI is the slice of the S3 client the mirror uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror uploads reports to a bucket under an optional prefix.
type S3Mirror struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Mirror builds a mirror from the default AWS configuration chain.
func NewS3Mirror(ctx context.Context, cfg S3Config) (*S3Mirror, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3MirrorWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3MirrorWithClient returns a mirror over an existing client.
func NewS3MirrorWithClient(client PutObjectAPI, bucket, prefix string) *S3Mirror {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix}
}

func (m *S3Mirror) Name() string { return "s3" }

// Key returns the object key for a report name.
func (m *S3Mirror) Key(name string) string {
	return m.prefix + name
}

func (m *S3Mirror) Put(ctx context.Context, name string, data []byte) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.Key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report to S3: %w", err)
	}
	return nil
}
