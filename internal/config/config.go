// Package config loads meshport configuration.
//
// Precedence, highest first: runtime overrides, MESHPORT_* environment
// variables, the config file, built-in defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/3leaps/meshport/internal/observability"
)

const (
	// AppName names the app data dir and the default config file.
	AppName = "meshport"

	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "MESHPORT"
)

// Config is the effective configuration.
type Config struct {
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Poll    PollConfig    `mapstructure:"poll" yaml:"poll"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`

	// DataDir overrides the app data dir (session file, job registry).
	DataDir string `mapstructure:"data_dir" yaml:"data_dir,omitempty"`
}

// BackendConfig describes the portal backend the client talks to.
type BackendConfig struct {
	URL         string        `mapstructure:"url" yaml:"url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequireAuth bool          `mapstructure:"require_auth" yaml:"require_auth"`
	RateLimit   float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// PollConfig drives the status polling loop.
type PollConfig struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ProgressStart int           `mapstructure:"progress_start" yaml:"progress_start"`
	ProgressStep  int           `mapstructure:"progress_step" yaml:"progress_step"`
	ProgressCap   int           `mapstructure:"progress_cap" yaml:"progress_cap"`
	Retry         RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// RetryConfig bounds retries of transient status-poll failures.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// OutputConfig controls where retrieved artifacts are written.
type OutputConfig struct {
	Dir string   `mapstructure:"dir" yaml:"dir"`
	S3  S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the S3 artifact sink. The bucket comes from the
// s3:// destination itself.
type S3Config struct {
	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Profile        string `mapstructure:"profile" yaml:"profile,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// ServerConfig configures the mock portal backend started by `meshport serve`.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	PollsUntilDone  int           `mapstructure:"polls_until_done" yaml:"polls_until_done"`
	AdminUser       string        `mapstructure:"admin_user" yaml:"admin_user"`
}

// ResolveDataDir returns the configured data dir, falling back to the
// platform app data dir.
func (c *Config) ResolveDataDir() string {
	if c != nil && strings.TrimSpace(c.DataDir) != "" {
		return strings.TrimSpace(c.DataDir)
	}
	return gfconfig.GetAppDataDir(AppName)
}

// Validate checks cross-field constraints the decoder cannot express.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.Backend.URL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "backend.url", Message: fmt.Sprintf("must be an http(s) URL, got %q", c.Backend.URL)}
	}
	if c.Backend.Timeout < 0 {
		return &ValidationError{Field: "backend.timeout", Message: "must not be negative"}
	}
	if c.Backend.RateLimit < 0 {
		return &ValidationError{Field: "backend.rate_limit", Message: "must not be negative"}
	}
	if c.Poll.Interval <= 0 {
		return &ValidationError{Field: "poll.interval", Message: "must be positive"}
	}
	if c.Poll.Timeout < 0 {
		return &ValidationError{Field: "poll.timeout", Message: "must not be negative"}
	}
	p := c.Poll
	if p.ProgressStart < 0 || p.ProgressStep < 0 || p.ProgressCap > 100 || p.ProgressStart > p.ProgressCap {
		return &ValidationError{Field: "poll.progress", Message: "need 0 <= progress_start <= progress_cap <= 100 and progress_step >= 0"}
	}
	if p.Retry.MaxAttempts < 1 {
		return &ValidationError{Field: "poll.retry.max_attempts", Message: "must be >= 1"}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: "must be between 0 and 65535"}
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return &ValidationError{Field: "logging.level", Message: err.Error()}
	}
	switch c.Logging.Profile {
	case observability.ProfileStructured, observability.ProfileConsole:
	default:
		return &ValidationError{Field: "logging.profile", Message: fmt.Sprintf("unknown profile %q", c.Logging.Profile)}
	}
	return nil
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}
