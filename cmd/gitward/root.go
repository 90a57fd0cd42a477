package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gitward",
	Short: "Write-gated repository automation server",
	Long: `gitward exposes a tool catalog over HTTP for remote software agents:
repository file edits with read-back verification, branch and pull
request management, persistent workspace clones, and command execution
inside them.

Writes to the canonical branch and to unscoped repository state stay
disabled until a caller flips the gate with authorize_writes; feature
branch work needs no approval.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (YAML); GITWARD_* environment variables override it")
}
