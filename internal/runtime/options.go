package runtime

import (
	"errors"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aryan-salemababdi/winbash/internal/storage/pool"
)

// Option is a functional option for configuring a Runtime.
type Option func(*Runtime) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		rt.logger = logger
		return nil
	}
}

// WithRoutes replaces the default routing table, which only carries /health.
func WithRoutes(fn RoutesFunc) Option {
	return func(rt *Runtime) error {
		if fn == nil {
			return errors.New("routes func must not be nil")
		}
		rt.routes = fn
		return nil
	}
}

// WithPool uses an existing pool instead of connecting to the configured
// database. The runtime still shuts it down.
func WithPool(p *pool.Pool) Option {
	return func(rt *Runtime) error {
		rt.pool = p
		return nil
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(rt *Runtime) error {
		rt.registry = reg
		return nil
	}
}

// WithClock sets the clock used for request timing.
func WithClock(clock clockwork.Clock) Option {
	return func(rt *Runtime) error {
		rt.clock = clock
		return nil
	}
}

// WithListenAddr overrides the listen address derived from the configured
// port, e.g. "127.0.0.1:0" for an ephemeral port.
func WithListenAddr(addr string) Option {
	return func(rt *Runtime) error {
		rt.listenAddr = addr
		return nil
	}
}

// WithTraceOutput sets where exported spans are written when tracing is on.
func WithTraceOutput(w io.Writer) Option {
	return func(rt *Runtime) error {
		rt.traceOut = w
		return nil
	}
}
