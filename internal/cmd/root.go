// Package cmd implements the meshport command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/3leaps/meshport/internal/config"
	"github.com/3leaps/meshport/internal/observability"
)

// VersionInfo is stamped at build time through SetVersionInfo.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}

var versionInfo = VersionInfo{Version: "dev", Commit: "none", BuildDate: "unknown"}

// Persistent flags.
var (
	cfgFile      string
	logLevelFlag string
	backendFlag  string
	jsonFlag     bool
)

// appConfig is the configuration loaded for the running command.
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "meshport",
	Short: "Turn images into 3D models through the portal backend",
	Long: `meshport submits images to an image-to-3D portal, waits for the
generation job to finish and stores the resulting .glb model.

Examples:
  meshport login -u ada
  meshport upload chair.png
  meshport upload 'photos/**/*.jpg' --output s3://models/chairs/
  meshport jobs list
  meshport serve --port 8007`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./meshport.yaml or <data dir>/meshport.yaml)")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&backendFlag, "backend", "", "Portal backend URL (overrides backend.url)")
	pf.BoolVar(&jsonFlag, "json", false, "Emit machine-readable JSON output")
}

// SetVersionInfo records build metadata for `meshport version` and the
// mock server's /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	defer observability.Sync()
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error: "+userMessage(err))
	return exitCodeFor(err)
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	config.SetConfigFile(cfgFile)

	overrides := map[string]any{}
	if v := strings.TrimSpace(backendFlag); v != "" {
		overrides["backend"] = map[string]any{"url": v}
	}
	if v := strings.TrimSpace(logLevelFlag); v != "" {
		overrides["logging"] = map[string]any{"level": v}
	}

	cfg, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg

	if err := observability.InitCLILogger(cfg.Logging.Level, cfg.Logging.Profile, cmd.ErrOrStderr()); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("command", cmd.CommandPath()),
		zap.String("backend", cfg.Backend.URL),
		zap.String("data_dir", cfg.ResolveDataDir()))
	return nil
}

// currentConfig returns the loaded configuration, loading defaults when a
// command runs without the root pre-run (tests calling run funcs directly).
func currentConfig(ctx context.Context) (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	appConfig = cfg
	return cfg, nil
}

// resetFlags restores every flag to its default and drops the loaded
// configuration, so the command tree can be executed again in-process.
func resetFlags() {
	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		for _, fs := range []*pflag.FlagSet{c.PersistentFlags(), c.Flags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				if sv, ok := f.Value.(pflag.SliceValue); ok {
					_ = sv.Replace(nil)
				} else {
					_ = f.Value.Set(f.DefValue)
				}
				f.Changed = false
			})
		}
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)
	appConfig = nil
}
