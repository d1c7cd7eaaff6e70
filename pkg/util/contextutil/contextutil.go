package contextutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var ErrShutdown = errors.New("agent shutdown requested")

// SetupSignals returns a context cancelled with ErrShutdown on SIGINT or
// SIGTERM.
func SetupSignals(ctx context.Context) context.Context {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)
	ctxCa, ca := context.WithCancelCause(ctx)
	go func() {
		defer signal.Stop(sig)
		defer ca(fmt.Errorf("signal received : %w", ErrShutdown))
		select {
		case s := <-sig:
			slog.With("signal", s.String()).Info("interrupt received")
		case <-ctxCa.Done():
		}
	}()
	return ctxCa
}
