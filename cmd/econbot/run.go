package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"econbot/internal/app"

	"github.com/spf13/cobra"
)

var stopTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(sigs)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := app.New(ctx, cfgPath)
		if err != nil {
			return fmt.Errorf("startup: %w", err)
		}
		if err := a.Start(ctx); err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			_ = a.Stop(stopCtx, app.StopFatalError)
			stopCancel()
			return fmt.Errorf("start: %w", err)
		}

		reason := app.StopAppStop
	wait:
		for {
			select {
			case s := <-sigs:
				switch s {
				case syscall.SIGHUP:
					// logrotate postrotate hook
					a.RotateLogs()
					continue
				case syscall.SIGTERM:
					reason = app.StopSIGTERM
				default:
					reason = app.StopSIGINT
				}
				break wait
			case <-a.Done():
				reason = app.StopFatalError
				break wait
			}
		}
		cancel()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, reason)
		if reason == app.StopFatalError {
			return a.Err()
		}
		return nil
	},
}

func init() {
	runCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
}
