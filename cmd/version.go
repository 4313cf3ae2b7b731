package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print tableshift version and supported MySQL versions",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tableshift %s (commit: %s, built: %s)\n\n", Version, CommitSHA, BuildDate)
		fmt.Println("Supported MySQL versions:")
		fmt.Println("  • MySQL 5.7 / 8.0 / 8.4 (including Percona Server)")
		fmt.Println()
		fmt.Println("MariaDB is not supported.")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Enable the standard --version flag.
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", Version, CommitSHA, BuildDate)
}
