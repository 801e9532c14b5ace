package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// EnvSpec maps one environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

// SetConfigFile pins the config file used by subsequent Load calls.
// An empty path restores file discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load builds the effective configuration and makes it available through
// GetConfig. Each override map is nested like the config file
// (e.g. {"poll": {"interval": "1s"}}). Loading only reads local files and
// the environment, so it does not observe cancellation: a command started
// on an interrupted context still gets its configuration.
func Load(_ context.Context, overrides ...map[string]any) (*Config, error) {

	v := viper.New()
	setDefaults(v)

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		for key, val := range flattenOverrides("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Backend.URL = strings.TrimRight(strings.TrimSpace(cfg.Backend.URL), "/")
	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://localhost:8007")
	v.SetDefault("backend.timeout", "30s")
	v.SetDefault("backend.require_auth", false)
	v.SetDefault("backend.rate_limit", 10)
	v.SetDefault("backend.rate_burst", 5)

	v.SetDefault("poll.interval", "5s")
	v.SetDefault("poll.timeout", "0s")
	v.SetDefault("poll.progress_start", 10)
	v.SetDefault("poll.progress_step", 10)
	v.SetDefault("poll.progress_cap", 90)
	v.SetDefault("poll.retry.max_attempts", 3)
	v.SetDefault("poll.retry.initial_backoff", "1s")
	v.SetDefault("poll.retry.max_backoff", "10s")

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.s3.region", "")
	v.SetDefault("output.s3.endpoint", "")
	v.SetDefault("output.s3.profile", "")
	v.SetDefault("output.s3.force_path_style", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8007)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.polls_until_done", 3)
	v.SetDefault("server.admin_user", "admin")

	v.SetDefault("data_dir", "")
}

func getEnvSpecs() []EnvSpec {
	env := func(suffix, path string) EnvSpec {
		return EnvSpec{Name: EnvPrefix + "_" + suffix, Path: path}
	}
	return []EnvSpec{
		env("BACKEND_URL", "backend.url"),
		env("BACKEND_TIMEOUT", "backend.timeout"),
		env("REQUIRE_AUTH", "backend.require_auth"),
		env("RATE_LIMIT", "backend.rate_limit"),
		env("RATE_BURST", "backend.rate_burst"),
		env("POLL_INTERVAL", "poll.interval"),
		env("POLL_TIMEOUT", "poll.timeout"),
		env("POLL_RETRIES", "poll.retry.max_attempts"),
		env("OUTPUT_DIR", "output.dir"),
		env("S3_REGION", "output.s3.region"),
		env("S3_ENDPOINT", "output.s3.endpoint"),
		env("LOG_LEVEL", "logging.level"),
		env("LOG_PROFILE", "logging.profile"),
		env("HOST", "server.host"),
		env("PORT", "server.port"),
		env("READ_TIMEOUT", "server.read_timeout"),
		env("SHUTDOWN_TIMEOUT", "server.shutdown_timeout"),
		env("MOCK_POLLS", "server.polls_until_done"),
		env("MOCK_ADMIN", "server.admin_user"),
		env("DATA_DIR", "data_dir"),
	}
}

// readConfigFile reads the pinned config file, or the first meshport.yaml
// found in the working dir or the app data dir. A missing discovered file is
// not an error; a missing pinned file is.
func readConfigFile(v *viper.Viper) error {
	configMu.RLock()
	pinned := configFile
	configMu.RUnlock()

	if pinned != "" {
		v.SetConfigFile(pinned)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", pinned, err)
		}
		return nil
	}

	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir := strings.TrimSpace(os.Getenv(EnvPrefix + "_DATA_DIR")); dir != "" {
		v.AddConfigPath(dir)
	} else if dir := gfconfig.GetAppDataDir(AppName); dir != "" {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func flattenOverrides(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flattenOverrides(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
