package energylens

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the S3 archive backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // S3-compatible services such as MinIO

	// Prefer IAM roles or AWS_* environment variables over static keys.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
	MaxRetries   int    `yaml:"max_retries"`
}

// S3Backend stores bundles in an S3 bucket.
type S3Backend struct {
	client  *s3.Client
	config  S3Config
	retryer *Retryer
}

// NewS3Backend loads the default AWS configuration and creates a client.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	rc := DefaultRetryConfig()
	rc.MaxAttempts = cfg.MaxRetries
	return &S3Backend{
		client:  s3.NewFromConfig(awsCfg, s3Opts...),
		config:  cfg,
		retryer: NewRetryer(rc),
	}, nil
}

func (s *S3Backend) Read(ctx context.Context, key string) ([]byte, error) {
	data, res := DoWithResult(ctx, s.retryer, func() ([]byte, error) {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(s.config.Prefix + key),
		})
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, os.ErrNotExist
		}
		if err != nil {
			return nil, fmt.Errorf("s3 get object failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		return io.ReadAll(resp.Body)
	})
	return data, res.LastErr
}

func (s *S3Backend) Write(ctx context.Context, key string, data []byte) error {
	return s.retryer.Do(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.config.Bucket),
			Key:         aws.String(s.config.Prefix + key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/octet-stream"),
		})
		if err != nil {
			return fmt.Errorf("s3 put object failed: %w", err)
		}
		return nil
	}).LastErr
}

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	return s.retryer.Do(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(s.config.Prefix + key),
		})
		if err != nil {
			return fmt.Errorf("s3 delete object failed: %w", err)
		}
		return nil
	}).LastErr
}

func (s *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.config.Prefix + prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects failed: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.config.Prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Backend) Close() error { return nil }
