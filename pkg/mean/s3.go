package mean

import (
	"context"
	"io"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

const s3Scheme = "s3://"

// S3Config holds explicit client parameters. Empty fields fall back to the
// default AWS configuration chain.
type S3Config struct {
	Region          string
	Endpoint        string // optional; set for MinIO or other S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// Environment variables read by S3ConfigFromEnv:
//   FLOATFEED_S3_REGION=<region> (default us-east-1)
//   FLOATFEED_S3_ENDPOINT=<url> (optional)
//   FLOATFEED_S3_PATH_STYLE=true|false
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (through the default chain)

// S3ConfigFromEnv builds an S3Config from process environment.
func S3ConfigFromEnv() S3Config {
	return S3Config{
		Region:    os.Getenv("FLOATFEED_S3_REGION"),
		Endpoint:  os.Getenv("FLOATFEED_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("FLOATFEED_S3_PATH_STYLE"), "true"),
	}
}

// Option customizes Load.
type Option func(*options)

type options struct {
	s3     S3Config
	client *s3.Client
}

// WithS3Config overrides the environment-derived S3 settings.
func WithS3Config(cfg S3Config) Option {
	return func(o *options) { o.s3 = cfg }
}

// WithS3Client uses an existing client instead of building one.
func WithS3Client(c *s3.Client) Option {
	return func(o *options) { o.client = c }
}

// NewS3Client builds a client from cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, s3Scheme)
	if !ok {
		return "", "", errors.Newf(errors.ErrorTypeConfig, "not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", errors.Newf(errors.ErrorTypeConfig, "s3 uri needs a bucket and a key: %q", uri)
	}
	return bucket, key, nil
}

func fetchS3(ctx context.Context, uri string, o *options) ([]byte, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}

	client := o.client
	if client == nil {
		if client, err = NewS3Client(ctx, o.s3); err != nil {
			return nil, err
		}
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to fetch mean file").
			WithDetail("uri", uri)
	}
	defer out.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to read mean file body").
			WithDetail("uri", uri)
	}
	return raw, nil
}
