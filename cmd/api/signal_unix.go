//go:build !windows

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/penshort/shortlinker/internal/reload"
)

// watchReloadSignal makes SIGUSR1 trigger a data reload through the
// coordinator, so operators can refresh the catalog without the CLI. The
// returned func stops the watcher.
func watchReloadSignal(ctx context.Context, coordinator *reload.Coordinator, logger *slog.Logger) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ch:
				logger.Info("SIGUSR1 received, reloading data")
				if _, err := coordinator.Reload(ctx, reload.Data); err != nil {
					logger.Error("signal-triggered reload failed", "error", err)
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
