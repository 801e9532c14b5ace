package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/3leaps/meshport/internal/config"
	"github.com/3leaps/meshport/pkg/sink"
	"github.com/3leaps/meshport/pkg/sink/file"
	"github.com/3leaps/meshport/pkg/sink/s3"
)

// Destination parsing errors
var (
	// ErrInvalidDestination indicates the destination could not be parsed.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrUnsupportedScheme indicates the URI scheme is not supported.
	ErrUnsupportedScheme = errors.New("unsupported scheme")

	// ErrMissingBucket indicates an s3:// destination without a bucket.
	ErrMissingBucket = errors.New("missing bucket name")
)

// Destination is where retrieved models are written.
//
// Examples:
//   - ./models            (local directory)
//   - file:///srv/models  (local directory)
//   - s3://bucket         (bucket root)
//   - s3://bucket/models/ (prefix)
type Destination struct {
	Kind sink.Kind

	// Dir is the local directory for KindFile.
	Dir string

	// Bucket and Prefix locate objects for KindS3.
	Bucket string
	Prefix string
}

// String returns the destination in canonical form.
func (d *Destination) String() string {
	if d.Kind == sink.KindS3 {
		return fmt.Sprintf("s3://%s/%s", d.Bucket, d.Prefix)
	}
	return d.Dir
}

// ParseDestination parses a directory path or an s3:// URI.
func ParseDestination(raw string) (*Destination, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty destination", ErrInvalidDestination)
	}

	schemeEnd := strings.Index(raw, "://")
	if schemeEnd == -1 {
		return &Destination{Kind: sink.KindFile, Dir: raw}, nil
	}

	scheme := strings.ToLower(raw[:schemeEnd])
	remainder := raw[schemeEnd+3:]
	switch scheme {
	case "file":
		if remainder == "" {
			return nil, fmt.Errorf("%w: empty path in %s", ErrInvalidDestination, raw)
		}
		return &Destination{Kind: sink.KindFile, Dir: remainder}, nil
	case "s3":
	default:
		return nil, fmt.Errorf("%w: %s (supported: s3, file, or a directory path)", ErrUnsupportedScheme, scheme)
	}

	bucket, prefix, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, raw)
	}
	if _, err := url.Parse("s3://" + bucket + "/"); err != nil {
		return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidDestination, bucket)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Destination{Kind: sink.KindS3, Bucket: bucket, Prefix: prefix}, nil
}

// openSink builds the sink for dest, taking S3 connection settings from cfg.
func openSink(ctx context.Context, cfg *config.Config, dest *Destination) (sink.Sink, error) {
	switch dest.Kind {
	case sink.KindS3:
		return s3.New(ctx, s3.Config{
			Bucket:         dest.Bucket,
			Prefix:         dest.Prefix,
			Region:         cfg.Output.S3.Region,
			Endpoint:       cfg.Output.S3.Endpoint,
			Profile:        cfg.Output.S3.Profile,
			ForcePathStyle: cfg.Output.S3.ForcePathStyle,
		})
	default:
		return file.New(file.Config{BaseDir: dest.Dir})
	}
}
