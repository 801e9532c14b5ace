// Package s3 stores artifacts in AWS S3 or S3-compatible storage.
package s3

import "strings"

// Config selects the bucket and credentials of an S3 sink. Without explicit
// keys or a profile, credentials come from the SDK default chain. Endpoint
// and ForcePathStyle target S3-compatible stores such as MinIO or moto.
type Config struct {
	Bucket string
	// Prefix is prepended to every key; a trailing slash is added.
	Prefix string

	// Region defaults to us-east-1 for AWS; custom endpoints get none.
	Region         string
	Endpoint       string
	ForcePathStyle bool

	Profile         string
	AccessKeyID     string
	SecretAccessKey string
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// ContentType is sent with every stored model.
const ContentType = "model/gltf-binary"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
