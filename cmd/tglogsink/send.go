package main

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tglogsink/internal/app"
)

var sendCmd = &cobra.Command{
	Use:   "send TEXT...",
	Short: "Deliver one message and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(cmd.Context()); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	s := a.Sink()
	if s.Stats().Chat == "" {
		_ = a.Stop(context.Background(), app.StopDone)
		return errors.New("no destination chat; nothing sent")
	}
	s.Accept(html.EscapeString(strings.Join(args, " ")))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Stop(ctx, app.StopDone); err != nil {
		return err
	}

	st := s.Stats()
	if st.Delivered == 0 {
		return fmt.Errorf("message not delivered (failed=%d dropped=%d)", st.Failed, st.Dropped)
	}
	return nil
}
