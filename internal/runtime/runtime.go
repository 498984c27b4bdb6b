// Package runtime provides the Runtime struct and lifecycle management: it
// owns the connection pool, builds the request pipeline and runs the HTTP
// listeners until shutdown.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aryan-salemababdi/winbash/internal/config"
	"github.com/aryan-salemababdi/winbash/internal/domain"
	"github.com/aryan-salemababdi/winbash/internal/health"
	"github.com/aryan-salemababdi/winbash/internal/server"
	"github.com/aryan-salemababdi/winbash/internal/storage/pool"
	"github.com/aryan-salemababdi/winbash/internal/telemetry"
)

// RoutesFunc builds the routing table once the pool is available.
type RoutesFunc func(p *pool.Pool) []domain.Route

// Runtime binds the pipeline to a listener and coordinates shutdown with the
// connection pool. It can be embedded in larger applications or run
// standalone from cmd/server.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clockwork.Clock

	routes     RoutesFunc
	pool       *pool.Pool
	registry   *prometheus.Registry
	listenAddr string
	traceOut   io.Writer

	pipeline      *server.Pipeline
	server        *http.Server
	admin         *http.Server
	addr          net.Addr
	adminAddr     net.Addr
	traceShutdown func(context.Context) error
	errs          chan error

	mu       sync.Mutex
	started  bool
	stopping bool
	stopped  chan struct{}
}

// New creates a Runtime for cfg. Nothing is opened until Start.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", domain.ErrConfig)
	}

	rt := &Runtime{
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
		routes:   health.Routes,
		traceOut: os.Stdout,
		errs:     make(chan error, 2),
		stopped:  make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if rt.listenAddr == "" {
		rt.listenAddr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	if rt.registry == nil {
		rt.registry = telemetry.NewRegistry()
	}
	return rt, nil
}

// Start initializes the pool, builds the pipeline and binds the listener. A
// bind failure wraps domain.ErrListenerBind and is not retried.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.started {
		return errors.New("runtime already started")
	}

	if rt.cfg.Telemetry.Tracing {
		shutdown, err := telemetry.InitTracer(rt.cfg.Server.Docs.Title, rt.traceOut, rt.logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		rt.traceShutdown = shutdown
	}

	if rt.pool == nil {
		p, err := pool.New(ctx, pool.Config{
			URI:             rt.cfg.Database.URI,
			TLSVerification: false,
			MaxConns:        rt.cfg.Database.MaxConns,
			AcquireTimeout:  rt.cfg.Database.AcquireTimeout,
			ConnectTimeout:  rt.cfg.Database.ConnectTimeout,
		}, pool.WithLogger(rt.logger))
		if err != nil {
			return rt.abort(ctx, fmt.Errorf("init pool: %w", err))
		}
		rt.pool = p
	}

	if err := rt.registry.Register(pool.NewCollector(rt.pool)); err != nil {
		return rt.abort(ctx, fmt.Errorf("register pool metrics: %w", err))
	}
	metrics, err := telemetry.NewHTTPMetrics(rt.registry)
	if err != nil {
		return rt.abort(ctx, fmt.Errorf("register http metrics: %w", err))
	}

	pipeline, err := server.Build(rt.cfg.Server, rt.routes(rt.pool),
		server.WithLogger(rt.logger),
		server.WithClock(rt.clock))
	if err != nil {
		return rt.abort(ctx, fmt.Errorf("build pipeline: %w", err))
	}
	rt.pipeline = pipeline

	var handler http.Handler = pipeline
	if rt.traceShutdown != nil {
		handler = telemetry.Trace(handler, rt.cfg.Server.Docs.Title)
	}
	handler = metrics.Instrument(handler)

	ln, err := net.Listen("tcp", rt.listenAddr)
	if err != nil {
		return rt.abort(ctx, fmt.Errorf("%w: %s: %w", domain.ErrListenerBind, rt.listenAddr, err))
	}

	var adminLn net.Listener
	if addr := rt.cfg.Metrics.Addr; addr != "" {
		adminLn, err = net.Listen("tcp", addr)
		if err != nil {
			_ = ln.Close()
			return rt.abort(ctx, fmt.Errorf("%w: metrics %s: %w", domain.ErrListenerBind, addr, err))
		}
	}

	rt.server = rt.newHTTPServer(handler)
	rt.addr = ln.Addr()
	go rt.serve(rt.server, ln, "http")

	if adminLn != nil {
		rt.admin = rt.newHTTPServer(rt.adminRouter())
		rt.adminAddr = adminLn.Addr()
		go rt.serve(rt.admin, adminLn, "metrics")
		rt.logger.Info("metrics listener started", slog.String("addr", rt.adminAddr.String()))
	}

	rt.started = true

	port := rt.cfg.Server.Port
	if tcp, ok := rt.addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	rt.logger.Info(fmt.Sprintf("run > http://localhost:%d", port),
		slog.Int("port", port),
		slog.Any("stages", pipeline.Stages()))

	return nil
}

func (rt *Runtime) newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: rt.cfg.Server.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(rt.logger.Handler(), slog.LevelWarn),
	}
}

func (rt *Runtime) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/metrics", telemetry.Handler(rt.registry).ServeHTTP)
	r.Get("/pool", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rt.pool.Stats())
	})
	return r
}

func (rt *Runtime) serve(srv *http.Server, ln net.Listener, name string) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		rt.logger.Error("listener failed", slog.String("listener", name), slog.String("error", err.Error()))
		rt.errs <- fmt.Errorf("%s listener: %w", name, err)
	}
}

// abort releases what Start opened before failing.
func (rt *Runtime) abort(ctx context.Context, err error) error {
	if rt.pool != nil {
		if perr := rt.pool.Shutdown(ctx); perr != nil {
			rt.logger.Warn("close pool after failed start", slog.String("error", perr.Error()))
		}
	}
	if rt.traceShutdown != nil {
		_ = rt.traceShutdown(ctx)
	}
	return err
}

// Shutdown stops accepting requests and drains in-flight ones, then shuts the
// pool down and logs the disconnection. Later calls wait for the first one and
// return nil.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	if rt.stopping {
		rt.mu.Unlock()
		select {
		case <-rt.stopped:
		case <-ctx.Done():
		}
		return nil
	}
	rt.stopping = true
	servers := []*http.Server{rt.server, rt.admin}
	p, traceShutdown := rt.pool, rt.traceShutdown
	rt.mu.Unlock()
	defer close(rt.stopped)

	rt.logger.Info("shutting down")

	var errs []error
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			rt.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
	}

	if p != nil {
		if err := p.Shutdown(ctx); err != nil {
			rt.logger.Error("failed to shutdown pool", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("shutdown pool: %w", err))
		}
		rt.logger.Info("disconnected from " + p.Title())
	}

	if traceShutdown != nil {
		if err := traceShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Addr returns the bound address of the public listener, or nil before Start.
func (rt *Runtime) Addr() net.Addr {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.addr
}

// MetricsAddr returns the bound address of the metrics listener, if any.
func (rt *Runtime) MetricsAddr() net.Addr {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.adminAddr
}

// Pool returns the connection pool, or nil before Start.
func (rt *Runtime) Pool() *pool.Pool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pool
}

// Pipeline returns the built pipeline, or nil before Start.
func (rt *Runtime) Pipeline() *server.Pipeline {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pipeline
}

// Errors reports listeners that stopped unexpectedly.
func (rt *Runtime) Errors() <-chan error {
	return rt.errs
}
