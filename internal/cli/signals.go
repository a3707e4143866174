package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// WithInterrupt returns a context cancelled on the first SIGINT or
// SIGTERM. A notice is written to w when that happens.
func WithInterrupt(parent context.Context, w io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			fmt.Fprintln(w, "\nInterrupted, stopping (in-flight requests get a short grace period)")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
