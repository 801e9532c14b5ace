package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/meshport/internal/server/handlers"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "set all values", version: "1.0.0", commit: "abc123", buildDate: "2026-01-15"},
		{name: "set dev version", version: "dev", commit: "HEAD", buildDate: "unknown"},
		{name: "set empty values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()
	SetVersionInfo("1.2.3", "deadbeef", "2026-10-01")
	newCLIEnv(t, handlers.PortalOptions{})

	res := runCLI(t, "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "meshport 1.2.3\n")
	assert.Contains(t, res.stdout, "commit=deadbeef\n")

	res = runCLI(t, "version", "--json")
	require.NoError(t, res.err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	assert.Equal(t, "1.2.3", got["version"])
	assert.Equal(t, "2026-10-01", got["build_date"])
	assert.NotEmpty(t, got["go_version"])
}

func TestRootFlags(t *testing.T) {
	env := newCLIEnv(t, handlers.PortalOptions{})

	t.Run("backend flag overrides env", func(t *testing.T) {
		res := runCLI(t, "config", "show", "--backend", "https://portal.example.com/")
		require.NoError(t, res.err)

		var doc map[string]any
		require.NoError(t, yaml.Unmarshal([]byte(res.stdout), &doc))
		backend := doc["backend"].(map[string]any)
		assert.Equal(t, "https://portal.example.com", backend["url"])
	})

	t.Run("invalid log level", func(t *testing.T) {
		res := runCLI(t, "version", "--log-level", "loud")
		require.Error(t, res.err)
		assert.Equal(t, foundry.ExitInvalidArgument, exitCodeFor(res.err))
	})

	t.Run("invalid backend", func(t *testing.T) {
		res := runCLI(t, "version", "--backend", "ftp://nope")
		require.Error(t, res.err)
		assert.Equal(t, foundry.ExitInvalidArgument, exitCodeFor(res.err))
	})

	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "meshport.yaml")
		require.NoError(t, os.WriteFile(path, []byte("poll:\n  progress_step: 25\n"), 0o644))

		res := runCLI(t, "config", "show", "--json", "--config", path)
		require.NoError(t, res.err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &doc))
		poll := doc["poll"].(map[string]any)
		assert.EqualValues(t, 25, poll["progress_step"])
		assert.Equal(t, "1ms", poll["interval"])
		assert.Equal(t, env.dataDir, doc["data_dir"])
	})

	t.Run("missing config file", func(t *testing.T) {
		res := runCLI(t, "version", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, res.err)
	})
}
