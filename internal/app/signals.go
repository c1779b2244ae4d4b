package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a context cancelled on SIGINT. SIGTERM is logged and
// otherwise ignored so a supervising client decides when the session ends.
func SignalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGTERM {
					logger.Warn("sigterm_ignored")
					continue
				}
				logger.Info("shutting_down", "signal", sig.String())
				cancel()
				return
			}
		}
	}()

	return ctx, cancel
}
