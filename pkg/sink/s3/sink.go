package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/printloft/cardforge/pkg/sink"
)

// Sink implements sink.Sink for AWS S3 and S3-compatible storage.
//
// Artifacts are written under Prefix with their run-unique names; the
// returned location is an s3:// URI for the batch report.
type Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ sink.Sink = (*Sink)(nil)

// Config configures the S3 sink.
type Config struct {
	// Bucket is the destination bucket name.
	Bucket string

	// Prefix is the key prefix for artifacts (may be empty).
	Prefix string

	// Region is the bucket region. Optional; the SDK default chain applies.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores. Optional.
	Endpoint string

	// Profile is the credential profile name. Optional.
	Profile string

	// AccessKeyID and SecretAccessKey override the default credential
	// chain when both are set.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle uses path-style addressing, required by most
	// S3-compatible stores.
	ForcePathStyle bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	return nil
}

// New creates an S3 sink.
//
// The sink uses the SDK's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &sink.SinkError{Op: "New", Err: err}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Sink{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Put uploads the artifact and returns its s3:// URI.
func (s *Sink) Put(ctx context.Context, name string, body io.Reader) (string, error) {
	key := name
	if s.prefix != "" {
		key = path.Join(s.prefix, name)
	}

	// PutObject wants a seekable body for SDK-internal retries; artifacts
	// are single images, so buffering is acceptable.
	data, err := io.ReadAll(body)
	if err != nil {
		return "", &sink.SinkError{Op: "Put", Name: name, Err: err}
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", &sink.SinkError{Op: "Put", Name: name, Err: wrapAPIError(err)}
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Close implements sink.Sink.
func (s *Sink) Close() error { return nil }

// wrapAPIError surfaces the S3 error code when present.
func wrapAPIError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
	return err
}
