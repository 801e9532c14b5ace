// Package sink defines where retrieved artifacts are stored.
//
// A sink accepts one object per retrieved job under a key derived from the
// input name. Implementations live in subpackages (file, s3).
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Sink stores artifacts.
//
// Implementations should be safe for concurrent use.
type Sink interface {
	// Put stores body under key and returns the resulting location
	// (a file path or an s3:// URI).
	Put(ctx context.Context, key string, body io.Reader, size int64) (string, error)

	// Location returns where key would be stored, without writing.
	Location(key string) string

	// Close releases any resources held by the sink.
	Close() error
}

// Kind identifies a sink implementation.
type Kind string

const (
	KindFile Kind = "file"
	KindS3   Kind = "s3"
)

func (k Kind) String() string { return string(k) }

// ArtifactExt is the extension of retrieved models.
const ArtifactExt = ".glb"

// ArtifactKey names the stored artifact for an input: the input's base name
// without extension, an underscore, the unix time and ".glb". A model file
// name chosen by the backend wins when present.
func ArtifactKey(source, modelFile string, now time.Time) string {
	if mf := strings.TrimSpace(filepath.Base(modelFile)); mf != "" && mf != "." && mf != "/" {
		if !strings.HasSuffix(strings.ToLower(mf), ArtifactExt) {
			mf += ArtifactExt
		}
		return mf
	}
	base := filepath.Base(strings.TrimSpace(source))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "model"
	}
	return fmt.Sprintf("%s_%d%s", base, now.Unix(), ArtifactExt)
}

// Sentinel errors for sink operations.
var (
	// ErrInvalidKey indicates a key that would escape the sink root.
	ErrInvalidKey = errors.New("invalid key")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the storage service is unavailable.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrThrottled indicates the request was rate limited.
	ErrThrottled = errors.New("request throttled")
)

// Error wraps sink-specific errors with context.
type Error struct {
	// Op is the operation that failed (e.g., "Put").
	Op string

	// Kind is the sink type.
	Kind Kind

	// Bucket is the bucket name, if applicable.
	Bucket string

	// Key is the object key, if applicable.
	Key string

	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Kind, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsBucketNotFound returns true if the error indicates the bucket does not exist.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}
