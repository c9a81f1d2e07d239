package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tglogsink/internal/app"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the destination chat id",
	Long: `Resolve the chat id the sink would deliver to: the configured chat_id,
the cached id, or the chat of the bot's most recent update.`,
	Args: cobra.NoArgs,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	id, ok := a.ResolveChat(cmd.Context())
	if !ok {
		return errors.New("no chat id: set telegram.chat_id or send the bot a message first")
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
