package main

import (
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "tglogsink",
	Short: "Forward log records to a Telegram chat",
	Long: `tglogsink delivers log records to a single Telegram chat through a bot.
Short records are sent as messages; records at or above Telegram's text
limit are sent as a text file with a preview caption.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json or yaml)")
}
