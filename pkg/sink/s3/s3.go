package s3

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/meshport/pkg/sink"
)

// putObjectAPI is the part of *s3.Client the sink uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Sink uploads artifacts with PutObject.
type Sink struct {
	client putObjectAPI
	bucket string
	prefix string
}

var _ sink.Sink = (*Sink)(nil)

// New creates an S3 sink. Credentials come from the SDK default chain
// unless the config carries explicit keys.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &sink.Error{Op: "New", Kind: sink.KindS3, Bucket: cfg.Bucket, Err: err}
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

	return newWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

func newWithClient(client putObjectAPI, cfg Config) *Sink {
	prefix := strings.TrimPrefix(strings.TrimSpace(cfg.Prefix), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Sink{client: client, bucket: cfg.Bucket, prefix: prefix}
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Let the SDK resolve region from env/profile unless one is pinned.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

func (s *Sink) objectKey(key string) string {
	return s.prefix + strings.TrimPrefix(key, "/")
}

// Location returns the s3:// URI for key.
func (s *Sink) Location(key string) string {
	return "s3://" + s.bucket + "/" + s.objectKey(key)
}

// Put uploads body as one object.
func (s *Sink) Put(ctx context.Context, key string, body io.Reader, size int64) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", &sink.Error{Op: "Put", Kind: sink.KindS3, Bucket: s.bucket, Err: sink.ErrInvalidKey}
	}
	objectKey := s.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        body,
		ContentType: aws.String(ContentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", s.wrapError("Put", objectKey, err)
	}
	return s.Location(key), nil
}

// Close is a no-op; the S3 client holds no resources that need releasing.
func (s *Sink) Close() error {
	return nil
}

// wrapError converts S3 errors to sink errors with the matching sentinel.
func (s *Sink) wrapError(op, key string, err error) error {
	wrapped := &sink.Error{Op: op, Kind: sink.KindS3, Bucket: s.bucket, Key: key, Err: err}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		wrapped.Err = sink.ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			wrapped.Err = sink.ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = sink.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = sink.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = sink.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = sink.ErrUnavailable
		}
	}
	return wrapped
}

// resolveRegion applies the fallback region after SDK loading: AWS S3
// without a resolved region gets us-east-1, custom endpoints get none.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
