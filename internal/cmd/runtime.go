package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/meshport/internal/config"
	"github.com/3leaps/meshport/internal/observability"
	"github.com/3leaps/meshport/pkg/jobregistry"
	"github.com/3leaps/meshport/pkg/portal"
	"github.com/3leaps/meshport/pkg/session"
	"github.com/3leaps/meshport/pkg/tracker"
)

func newPortalClient(cfg *config.Config) (*portal.Client, error) {
	client, err := portal.New(portal.Options{
		BaseURL:   cfg.Backend.URL,
		Timeout:   cfg.Backend.Timeout,
		RateLimit: cfg.Backend.RateLimit,
		RateBurst: cfg.Backend.RateBurst,
		Logger:    observability.CLILogger,
	})
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid backend URL", err)
	}
	return client, nil
}

func sessionStore(cfg *config.Config) *session.Store {
	return session.NewStore(cfg.ResolveDataDir())
}

func jobsRootDir(cfg *config.Config) string {
	return filepath.Join(cfg.ResolveDataDir(), "jobs")
}

func jobStore(cfg *config.Config) *jobregistry.Store {
	return jobregistry.NewStore(jobsRootDir(cfg))
}

// currentSession loads the saved session when it belongs to the configured
// backend. A missing or foreign session yields nil without error.
func currentSession(cfg *config.Config) (*session.Session, error) {
	sess, err := sessionStore(cfg).Load()
	if errors.Is(err, session.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to read session", err)
	}
	if !sess.ValidFor(cfg.Backend.URL) {
		observability.CLILogger.Debug("Ignoring session issued by another backend",
			zap.String("session_backend", sess.BackendURL),
			zap.String("backend", cfg.Backend.URL))
		return nil, nil
	}
	return sess, nil
}

// requireSession is currentSession that fails when nobody is logged in.
func requireSession(cfg *config.Config) (*session.Session, error) {
	sess, err := currentSession(cfg)
	if err != nil {
		return nil, err
	}
	if !sess.Authenticated() {
		return nil, exitError(foundry.ExitInvalidArgument, "Not logged in",
			fmt.Errorf("run 'meshport login' against %s first", cfg.Backend.URL))
	}
	return sess, nil
}

func trackerOptions(cfg *config.Config) tracker.Options {
	return tracker.Options{
		Interval:            cfg.Poll.Interval,
		Timeout:             cfg.Poll.Timeout,
		ProgressStart:       cfg.Poll.ProgressStart,
		ProgressStep:        cfg.Poll.ProgressStep,
		ProgressCap:         cfg.Poll.ProgressCap,
		RetryAttempts:       cfg.Poll.Retry.MaxAttempts,
		RetryInitialBackoff: cfg.Poll.Retry.InitialBackoff,
		RetryMaxBackoff:     cfg.Poll.Retry.MaxBackoff,
		RequireCredential:   cfg.Backend.RequireAuth,
		Logger:              observability.CLILogger,
	}
}

func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func executablePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}
