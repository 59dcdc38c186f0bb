// Package s3blob archives auction event logs to S3 or an S3-compatible
// store (MinIO, Cloudflare R2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the connection settings for the archive bucket.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000" for
	// MinIO. Empty means AWS S3.
	Endpoint string
	Region   string
	Bucket   string
	// AccessKey and SecretKey select static credentials. When both are
	// empty the default AWS credential chain is used.
	AccessKey string
	SecretKey string
	// UseSSL picks the scheme when Endpoint has none.
	UseSSL         bool
	ForcePathStyle bool
}

// Client pairs an SDK client with the archive bucket.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a Client. It does not contact the bucket; see Health.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Health checks that the archive bucket exists and is reachable.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) S3() *s3.Client { return c.s3 }

func (c *Client) Bucket() string { return c.bucket }

// endpointURL adds a scheme to a bare host:port endpoint.
func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
