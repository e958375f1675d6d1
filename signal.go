package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the status of a run stopped by a second signal.
const exitInterrupted = 130

// interrupter ties a command's context to SIGINT and SIGTERM.
//
// The first signal cancels the context. An upload in flight then cancels its
// session on the server, and an interrupted get keeps its .partial file so
// the next get resumes it. A second signal exits at once and skips that
// cleanup.
type interrupter struct {
	signals chan os.Signal
	exit    func(code int)
	logger  *slog.Logger
}

func newInterrupter(logger *slog.Logger) *interrupter {
	return &interrupter{
		signals: make(chan os.Signal, 1),
		exit:    os.Exit,
		logger:  logger,
	}
}

// withInterrupt returns a context canceled by the first interrupt.
func withInterrupt(parent context.Context, logger *slog.Logger) context.Context {
	return newInterrupter(logger).watch(parent)
}

func (in *interrupter) watch(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	signal.Notify(in.signals, syscall.SIGINT, syscall.SIGTERM)

	go in.run(parent, ctx, cancel)

	return ctx
}

func (in *interrupter) run(parent, ctx context.Context, cancel context.CancelFunc) {
	defer signal.Stop(in.signals)

	select {
	case sig := <-in.signals:
		in.logger.Info("interrupted, canceling transfers",
			slog.String("signal", sig.String()),
		)
		cancel()
	case <-ctx.Done():
		return
	}

	select {
	case sig := <-in.signals:
		in.logger.Warn("interrupted again, exiting without cleanup",
			slog.String("signal", sig.String()),
		)
		in.exit(exitInterrupted)
	case <-parent.Done():
	}
}
