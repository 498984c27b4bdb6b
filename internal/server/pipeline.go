package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"

	"github.com/aryan-salemababdi/winbash/internal/config"
	"github.com/aryan-salemababdi/winbash/internal/docs"
	"github.com/aryan-salemababdi/winbash/internal/domain"
)

// Stage names in execution order.
const (
	StageLogging    = "logging"
	StageCORS       = "cors"
	StageURLEncoded = "urlencoded"
	StageJSON       = "json"
	StageStatic     = "static"
	StageDocs       = "docs"
	StageRoutes     = "routes"
	StageError      = "error"
)

// Middleware wraps the remainder of the pipeline. A stage short-circuits by
// writing a response and returning nil without calling next, or by returning
// an error.
type Middleware func(next domain.HandlerFunc) domain.HandlerFunc

// Stage is one named step of the pipeline.
type Stage struct {
	Name string
	Wrap Middleware
}

// Option configures Build.
type Option func(*builder)

type builder struct {
	logger *slog.Logger
	clock  clockwork.Clock
}

// WithLogger sets the logger used by the logging stage and the error handler.
func WithLogger(logger *slog.Logger) Option {
	return func(b *builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock sets the clock used to measure request latency.
func WithClock(clock clockwork.Clock) Option {
	return func(b *builder) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// Pipeline is the composed request handler. Its stage order is fixed when it
// is built.
type Pipeline struct {
	stages  []Stage
	handler domain.HandlerFunc
	logger  *slog.Logger
}

// Build composes the pipeline for cfg and the routing table. The same inputs
// always produce the same stage order. It fails when a route cannot be
// mounted or the documentation cannot be rendered.
func Build(cfg config.ServerConfig, routes []domain.Route, opts ...Option) (*Pipeline, error) {
	b := &builder{
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}

	explorer, err := docs.NewExplorer(docs.BasePath, docs.Build(cfg.Docs, routes))
	if err != nil {
		return nil, fmt.Errorf("build documentation: %w", err)
	}

	delegate, err := Routes(routes)
	if err != nil {
		return nil, fmt.Errorf("mount routes: %w", err)
	}

	stages := []Stage{
		{Name: StageLogging, Wrap: RequestLogging(b.logger, b.clock)},
		{Name: StageCORS, Wrap: CORS()},
		{Name: StageURLEncoded, Wrap: URLEncoded(cfg.BodyLimit)},
		{Name: StageJSON, Wrap: JSON(cfg.BodyLimit)},
		{Name: StageStatic, Wrap: Static(cfg.StaticRoot)},
		{Name: StageDocs, Wrap: Docs(explorer)},
		{Name: StageRoutes, Wrap: delegate},
	}

	p := &Pipeline{stages: stages, logger: b.logger}
	p.handler = p.compose()
	return p, nil
}

// compose nests the stages around the not-found endpoint. Each boundary
// recovers panics so a failing stage always yields an error.
func (p *Pipeline) compose() domain.HandlerFunc {
	h := p.recoverer("endpoint", notFound)
	for i := len(p.stages) - 1; i >= 0; i-- {
		h = p.recoverer(p.stages[i].Name, p.stages[i].Wrap(h))
	}
	return h
}

// notFound terminates requests nothing else handled.
func notFound(w http.ResponseWriter, r *http.Request) error {
	return domain.NotFound("")
}

func (p *Pipeline) recoverer(stage string, next domain.HandlerFunc) domain.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) (err error) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			p.logger.Error("recovered panic",
				slog.String("stage", stage),
				slog.String("request_id", GetRequestID(r.Context())),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			err = domain.Internal(fmt.Errorf("panic in %s: %v", stage, rec))
		}()
		return next(w, r)
	}
}

// Stages returns the stage names in execution order, ending with the
// terminal error handler.
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages)+1)
	for _, s := range p.stages {
		names = append(names, s.Name)
	}
	return append(names, StageError)
}

// ServeHTTP runs the stages in order and hands any failure to the terminal
// error handler.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	if err := p.handler(ww, r); err != nil {
		HandleError(p.logger, ww, r, err)
	}
}
