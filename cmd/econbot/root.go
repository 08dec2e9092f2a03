package main

import (
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "econbot",
	Short: "Posts US economic calendar releases to a Telegram channel",
	Long: `econbot tracks scheduled releases from BLS, BEA, Census, DOL and the
Federal Reserve, posts a line to a Telegram channel shortly before each
release and again when the actual value is out, and answers !calendar with
the current week.

Configuration comes from --config (YAML or JSON) overlaid by ECONBOT_*
environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (yaml or json); empty reads the environment only")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(calendarCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(versionCmd)
}
