package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		if jsonFlag {
			return writeJSON(out, struct {
				VersionInfo
				GoVersion string `json:"go_version"`
				Platform  string `json:"platform"`
			}{versionInfo, runtime.Version(), runtime.GOOS + "/" + runtime.GOARCH})
		}
		_, _ = fmt.Fprintf(out, "meshport %s\n", versionInfo.Version)
		_, _ = fmt.Fprintf(out, "commit=%s\n", versionInfo.Commit)
		_, _ = fmt.Fprintf(out, "build_date=%s\n", versionInfo.BuildDate)
		_, _ = fmt.Fprintf(out, "go=%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
