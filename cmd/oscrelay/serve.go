package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"oscrelay/internal/app"
	logx "oscrelay/pkg/logx"
)

func newServeCommand(cfgPath *string) *cobra.Command {
	var stopTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay, its HTTP API and the config watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfgPath, stopTimeout)
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}

func runServe(ctx context.Context, cfgPath string, stopTimeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	stop := func(reason app.StopReason) {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, reason)
	}

	if err := a.Start(ctx); err != nil {
		stop(app.StopFatalError)
		return err
	}

	select {
	case s := <-sigs:
		reason := app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
		stop(reason)
		return nil
	case <-a.Done():
		err := a.Err()
		if err != nil {
			a.Log().Error("fatal error", logx.Err(err))
			stop(app.StopFatalError)
			return err
		}
		stop(app.StopAppStop)
		return nil
	}
}
