package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tglogsink/internal/app"
	logx "tglogsink/pkg/logx"
)

var (
	runLevel     string
	runExitOnEOF bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the sink and forward stdin lines as log records",
	Long: `Start the pipeline and forward every line read from stdin as one log
record at --level. Runs until SIGINT/SIGTERM, then drains the queue.

Under systemd (Type=notify) READY=1 is sent once delivery is live and
STOPPING=1 when shutdown begins. WatchdogSec is honored.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runLevel, "level", "l", "info", "level for records read from stdin")
	runCmd.Flags().BoolVar(&runExitOnEOF, "exit-on-eof", false, "stop when stdin is closed")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	level := logx.ParseLevel(runLevel, zerolog.InfoLevel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	notify(daemon.SdNotifyReady)
	go watchdog(ctx, a)

	lines := readLines(ctx, cmd.InOrStdin())
	log := a.Logger().With(logx.String("src", "stdin"))

	reason := app.StopUnknown
loop:
	for {
		select {
		case sig := <-sigCh:
			reason = app.StopSIGTERM
			if sig == os.Interrupt {
				reason = app.StopSIGINT
			}
			break loop
		case <-a.Done():
			reason = app.StopFatalError
			break loop
		case line, ok := <-lines:
			if !ok {
				if runExitOnEOF {
					reason = app.StopInputEOF
					break loop
				}
				lines = nil
				continue
			}
			log.Log(level, line)
		}
	}

	notify(daemon.SdNotifyStopping)
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

// readLines streams non-empty lines from r until EOF or ctx ends.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string, 64)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func notify(state string) {
	// Not running under systemd is fine: SdNotify returns (false, nil).
	_, _ = daemon.SdNotify(false, state)
}

// watchdog pings systemd at half the configured interval while the app runs.
func watchdog(ctx context.Context, a *app.App) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.Done():
			return
		case <-t.C:
			notify(daemon.SdNotifyWatchdog)
		}
	}
}
