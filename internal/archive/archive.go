// Package archive publishes finalized winners snapshots to an S3-compatible
// bucket, so payers can verify their proofs without calling the API.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"reflex-arena/internal/config"
	"reflex-arena/internal/model"
)

// Publisher stores a winners snapshot.
type Publisher interface {
	Publish(ctx context.Context, winners *model.EventWinners) error
}

// ObjectPutter is the subset of *s3.Client used by S3Publisher.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher writes snapshots as JSON objects under prefix/<event>/winners.json.
type S3Publisher struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Publisher builds a client for the configured bucket. A custom endpoint
// (R2, MinIO) switches to path-style addressing.
func NewS3Publisher(ctx context.Context, cfg *config.ArchiveConfig) (*S3Publisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewPublisher(client, cfg.Bucket, cfg.Prefix), nil
}

// NewPublisher wraps an existing client.
func NewPublisher(client ObjectPutter, bucket, prefix string) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key of an event's snapshot.
func (p *S3Publisher) Key(eventID string) string {
	return path.Join(p.prefix, eventID, "winners.json")
}

// Publish uploads the snapshot.
func (p *S3Publisher) Publish(ctx context.Context, winners *model.EventWinners) error {
	body, err := json.Marshal(winners)
	if err != nil {
		return fmt.Errorf("failed to encode winners: %w", err)
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(p.Key(winners.EventID)),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload winners: %w", err)
	}
	return nil
}

// Noop discards snapshots. It is used when archiving is disabled.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, *model.EventWinners) error { return nil }
