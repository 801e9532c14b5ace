package cmd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/meshport/internal/observability"
	"github.com/3leaps/meshport/internal/server"
	"github.com/3leaps/meshport/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mock portal backend",
	Long: `Run an in-memory portal backend for local development and tests.

It implements registration, login, the admin user listing, uploads, task
polling and model download. Uploads whose file name contains "fail" end
FAILED and "cancel" end CANCELED; everything else succeeds after
--polls-until-done status queries.

Examples:
  meshport serve
  meshport serve --port 8007 --require-auth --admin-user ada
  meshport serve --immediate`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost           string
	servePort           int
	servePollsUntilDone int
	serveAdminUser      string
	serveRequireAuth    bool
	serveImmediate      bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", -1, "Listen port, 0 picks a free one (default: server.port)")
	serveCmd.Flags().IntVar(&servePollsUntilDone, "polls-until-done", -1, "PENDING answers before a job finishes (default: server.polls_until_done)")
	serveCmd.Flags().StringVar(&serveAdminUser, "admin-user", "", "Username granted admin on registration (default: server.admin_user)")
	serveCmd.Flags().BoolVar(&serveRequireAuth, "require-auth", false, "Reject anonymous uploads")
	serveCmd.Flags().BoolVar(&serveImmediate, "immediate", false, "Answer uploads with a download URL instead of a task id")
}

// shutdownHealthChecker turns /health unhealthy once the server is draining.
type shutdownHealthChecker struct {
	ctx context.Context
}

func (c shutdownHealthChecker) CheckHealth(context.Context) error {
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd.Context())
	cfg, err := currentConfig(ctx)
	if err != nil {
		return err
	}

	sc := cfg.Server
	if serveHost != "" {
		sc.Host = serveHost
	}
	if servePort >= 0 {
		sc.Port = servePort
	}
	if servePollsUntilDone >= 0 {
		sc.PollsUntilDone = servePollsUntilDone
	}
	if serveAdminUser != "" {
		sc.AdminUser = serveAdminUser
	}

	logger := observability.CLILogger.Named("server")
	srv := server.New(sc.Host, sc.Port,
		server.WithLogger(logger),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithTimeouts(sc.ReadTimeout, sc.WriteTimeout, sc.IdleTimeout, sc.ShutdownTimeout),
		server.WithPortal(handlers.PortalOptions{
			PollsUntilDone: sc.PollsUntilDone,
			AdminUser:      sc.AdminUser,
			RequireAuth:    serveRequireAuth,
			Immediate:      serveImmediate,
		}),
	)
	srv.Health().RegisterChecker("shutdown", shutdownHealthChecker{ctx: ctx})

	out := cmd.OutOrStdout()
	start := time.Now()
	err = srv.Start(ctx, func(addr net.Addr) {
		_, _ = fmt.Fprintf(out, "listening=http://%s\n", addr.String())
	})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Mock portal failed", err)
	}
	observability.CLILogger.Info("Mock portal stopped", zap.Duration("uptime", time.Since(start)))
	return nil
}
