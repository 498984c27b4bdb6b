package runtime

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultShutdownTimeout bounds Shutdown when SignalListener.Timeout is unset.
const DefaultShutdownTimeout = 10 * time.Second

// SignalListener blocks until the process is interrupted, then shuts the
// runtime down and reports the exit code.
type SignalListener struct {
	Runtime *Runtime
	Timeout time.Duration
	Logger  *slog.Logger

	// Notify and Stop default to signal.Notify and signal.Stop.
	Notify func(c chan<- os.Signal, sig ...os.Signal)
	Stop   func(c chan<- os.Signal)

	once  sync.Once
	sigCh chan os.Signal
}

// Listen starts capturing signals (SIGINT and SIGTERM when none are given).
// Call it before Runtime.Start so an interrupt during startup is held for
// Wait instead of killing the process. Later calls are no-ops.
func (l *SignalListener) Listen(signals ...os.Signal) {
	l.once.Do(func() {
		notify := l.Notify
		if notify == nil {
			notify = signal.Notify
		}
		if len(signals) == 0 {
			signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
		}
		l.sigCh = make(chan os.Signal, 1)
		notify(l.sigCh, signals...)
	})
}

// Close stops capturing signals.
func (l *SignalListener) Close() {
	if l.sigCh == nil {
		return
	}
	stop := l.Stop
	if stop == nil {
		stop = signal.Stop
	}
	stop(l.sigCh)
}

// Wait blocks until a captured signal arrives, ctx is done or a listener
// fails. It calls Listen with the defaults if it has not been called. It
// returns 0 after a clean shutdown and 1 otherwise.
func (l *SignalListener) Wait(ctx context.Context) int {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l.Listen()
	defer l.Close()

	code := 0
	select {
	case sig := <-l.sigCh:
		logger.Info("received signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context done", slog.String("cause", context.Cause(ctx).Error()))
	case err := <-l.Runtime.Errors():
		logger.Error("server failed", slog.String("error", err.Error()))
		code = 1
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := l.Runtime.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
		return 1
	}
	return code
}
