//go:build windows

package main

import (
	"context"
	"log/slog"

	"github.com/penshort/shortlinker/internal/reload"
)

// watchReloadSignal is a no-op on Windows, which has no SIGUSR1; reloads
// come through the control channel only.
func watchReloadSignal(ctx context.Context, coordinator *reload.Coordinator, logger *slog.Logger) func() {
	return func() {}
}
