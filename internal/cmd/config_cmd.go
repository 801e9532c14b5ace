package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration",
	Long: `Print the configuration after defaults, the config file, MESHPORT_*
environment variables and flags have been merged. Output is YAML unless
--json is given.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !jsonFlag {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to render configuration", err)
		}
		return enc.Close()
	}

	// Round-trip through YAML so JSON keys and durations match the file format.
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to render configuration", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to render configuration", err)
	}
	return writeJSON(out, doc)
}
