/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"autoreply/pkg/config"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"

	configPath string
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "autoreply",
	Short: "Rule-based auto-reply bot",
	Long: `autoreply connects to a messaging channel and answers incoming direct
messages from a list of trigger rules. Rules can also qualify a message as a
lead and forward it to a configured recipient.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "autoreply %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $AUTOREPLY_CONFIG, ./config.json, ./config/config.json)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		return config.LoadConfigFile(path)
	}

	return config.LoadConfig()
}
