package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT or
// SIGTERM, letting watchers close their streams, and force-exits on the
// second.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// reloadOnHangup calls reload for every SIGHUP until ctx is done.
// "kubewatch freeze" and "kubewatch thaw" send SIGHUP to the daemon.
func reloadOnHangup(ctx context.Context, logger *slog.Logger, reload func() error) error {
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hupCh:
			logger.Info("received SIGHUP, re-reading freeze marker")

			if err := reload(); err != nil {
				logger.Warn("reload failed", slog.String("error", err.Error()))
			}
		}
	}
}
