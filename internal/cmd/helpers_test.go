package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/3leaps/meshport/internal/server"
	"github.com/3leaps/meshport/internal/server/handlers"
)

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// runCLI executes the command tree in-process with fresh flag state.
func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	return runCLIWithInput(t, "", args...)
}

func runCLIWithInput(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

type cliEnv struct {
	dataDir string
	backend *httptest.Server
}

// newCLIEnv points the CLI at a fresh data dir and a mock portal that
// finishes jobs after two PENDING polls.
func newCLIEnv(t *testing.T, opts handlers.PortalOptions) *cliEnv {
	t.Helper()
	if opts.PollsUntilDone == 0 {
		opts.PollsUntilDone = 2
	}
	opts.BcryptCost = bcrypt.MinCost
	if opts.AdminUser == "" {
		opts.AdminUser = "admin"
	}

	srv := server.New("127.0.0.1", 0, server.WithPortal(opts))
	backend := httptest.NewServer(srv.Handler())
	t.Cleanup(backend.Close)

	dataDir := t.TempDir()
	t.Setenv("MESHPORT_DATA_DIR", dataDir)
	t.Setenv("MESHPORT_BACKEND_URL", backend.URL)
	t.Setenv("MESHPORT_POLL_INTERVAL", "1ms")
	t.Setenv("MESHPORT_LOG_LEVEL", "info")
	t.Setenv("MESHPORT_PASSWORD", "")
	return &cliEnv{dataDir: dataDir, backend: backend}
}

// writeImage creates a small fake image under dir.
func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG fake image "+name), 0o644))
	return path
}

func globGLB(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.glb"))
	require.NoError(t, err)
	return matches
}
