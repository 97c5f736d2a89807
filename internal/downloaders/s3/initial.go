package segloads3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tanq16/segload/internal/utils"
)

var ErrNoContentLength = errors.New("object has no usable ContentLength")

// API is the part of the S3 client used by Source.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type ClientConfig struct {
	Region   string
	Endpoint string // S3-compatible endpoint; enables path-style addressing
}

// NewClient builds an S3 client for publicly readable objects. Requests are
// unsigned and go through the shared HTTP client so proxy and timeout settings apply.
func NewClient(ctx context.Context, cfg ClientConfig, httpClient utils.HTTPDoer) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
		config.WithRetryMode(aws.RetryModeAdaptive),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if httpClient != nil {
		opts = append(opts, config.WithHTTPClient(httpClient))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// ParseURL splits s3://bucket/key.
func ParseURL(rawURL string) (string, string, error) {
	rest, ok := strings.CutPrefix(rawURL, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid S3 URL format: %s", rawURL)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("S3 URL must name a single object: %s", rawURL)
	}
	return bucket, key, nil
}

// Source reads byte ranges of one S3 object.
type Source struct {
	api    API
	bucket string
	key    string
}

func NewSource(rawURL string, api API) (*Source, error) {
	bucket, key, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Source{api: api, bucket: bucket, key: key}, nil
}

func (s *Source) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

// Probe uses HeadObject to read the object size.
func (s *Source) Probe(ctx context.Context) (int64, error) {
	log := utils.GetLogger("s3-probe")
	head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return 0, fmt.Errorf("error getting S3 object info: %w", err)
	}
	if head.ContentLength == nil || *head.ContentLength <= 0 {
		return 0, ErrNoContentLength
	}
	log.Debug().Str("bucket", s.bucket).Str("key", s.key).Int64("size", *head.ContentLength).Msg("Probed S3 object")
	return *head.ContentLength, nil
}
