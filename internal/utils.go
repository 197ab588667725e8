package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var QuitChan = make(chan os.Signal, 1)

// ShutdownContext returns a context that is cancelled on the first SIGINT or
// SIGTERM. The returned function stops listening and cancels the context.
func ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signal.Notify(QuitChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-QuitChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(QuitChan)
		cancel()
	}
}
