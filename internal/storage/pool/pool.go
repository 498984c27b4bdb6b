// Package pool owns the process-wide database connection pool: bounded
// acquisition with a timeout, exclusive leases released exactly once, and a
// coordinated shutdown that fails pending acquisitions with ErrPoolClosed.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aryan-salemababdi/winbash/internal/domain"
	"github.com/aryan-salemababdi/winbash/internal/storage/dialect"
)

const (
	DefaultMaxConns       = 10
	DefaultAcquireTimeout = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Config holds the connection pool configuration.
type Config struct {
	// URI is the connection string (postgres://..., key=value, or sqlite://...).
	URI string

	// TLSVerification controls certificate verification for PostgreSQL.
	TLSVerification bool

	// MaxConns bounds the number of open connections.
	MaxConns int

	// AcquireTimeout bounds how long Acquire waits for a free connection.
	AcquireTimeout time.Duration

	// ConnectTimeout bounds the reachability check run at initialization.
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for lifecycle and lease warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pool is a bounded set of database connections handed out as exclusive leases.
type Pool struct {
	db     *sqlx.DB
	title  string
	target string
	cfg    Config
	logger *slog.Logger

	// ctx is cancelled when shutdown begins; pending acquisitions watch it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closing bool
	leases  sync.WaitGroup
	done    chan struct{}

	acquired       atomic.Int64
	released       atomic.Int64
	exhausted      atomic.Int64
	doubleReleases atomic.Int64
}

// New creates a pool for cfg.URI. A malformed URI fails with
// domain.ErrConfig. An unreachable database does not: the failure is logged
// and the pool is returned, ready to connect once the server is up.
func New(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	d, dsn, err := dialect.FromURI(cfg.URI, cfg.TLSVerification)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}

	db, err := d.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}

	p := newPool(sqlx.NewDb(db, d.DriverName()), d.Title(), dialect.Describe(cfg.URI), cfg, opts...)
	p.checkReachable(ctx)
	return p, nil
}

// NewFromDB adopts an existing handle. The pool takes ownership and closes
// db on shutdown.
func NewFromDB(ctx context.Context, db *sqlx.DB, cfg Config, opts ...Option) *Pool {
	p := newPool(db, "database", db.DriverName(), cfg, opts...)
	p.checkReachable(ctx)
	return p
}

func newPool(db *sqlx.DB, title, target string, cfg Config, opts ...Option) *Pool {
	cfg = cfg.withDefaults()
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)

	p := &Pool{
		db:     db,
		title:  title,
		target: target,
		cfg:    cfg,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// checkReachable leases one connection, pings it and returns it.
func (p *Pool) checkReachable(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	if err := p.Ping(pingCtx); err != nil {
		p.logger.Warn("could not connect to "+p.title,
			slog.String("target", p.target),
			slog.String("error", err.Error()))
		return
	}

	p.logger.Info("connected to "+p.title,
		slog.String("target", p.target),
		slog.Int("max_conns", p.cfg.MaxConns))
}

// Acquire leases a connection, waiting at most the configured acquisition
// timeout. It fails with domain.ErrPoolExhausted on timeout and with
// domain.ErrPoolClosed once shutdown has begun. The caller owns the returned
// Conn and must Release it on every path.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil, fmt.Errorf("acquire connection: %w", domain.ErrPoolClosed)
	}
	p.leases.Add(1)
	p.mu.Unlock()

	acqCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	conn, err := p.db.Connx(acqCtx)
	if err != nil {
		p.leases.Done()
		return nil, p.acquireError(ctx, acqCtx, err)
	}

	p.acquired.Add(1)
	return &Conn{conn: conn, pool: p, acquiredAt: time.Now()}, nil
}

func (p *Pool) acquireError(callerCtx, acqCtx context.Context, err error) error {
	switch {
	case p.ctx.Err() != nil:
		return fmt.Errorf("acquire connection: %w", domain.ErrPoolClosed)
	case callerCtx.Err() != nil:
		return fmt.Errorf("acquire connection: %w", callerCtx.Err())
	case errors.Is(acqCtx.Err(), context.DeadlineExceeded):
		p.exhausted.Add(1)
		return fmt.Errorf("%w: no connection available within %s", domain.ErrPoolExhausted, p.cfg.AcquireTimeout)
	}
	return fmt.Errorf("acquire connection: %w", err)
}

// WithConn runs fn with a leased connection and releases it on every exit
// path, including a panic in fn.
func (p *Pool) WithConn(ctx context.Context, fn func(*Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	return fn(conn)
}

// Ping checks that a connection can be leased and answers.
func (p *Pool) Ping(ctx context.Context) error {
	return p.WithConn(ctx, func(c *Conn) error {
		return c.PingContext(ctx)
	})
}

// Shutdown stops new acquisitions, fails pending ones with
// domain.ErrPoolClosed, waits for outstanding leases until ctx is done and
// closes every connection. Calls after the first wait for it to finish and
// return nil.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
		}
		return nil
	}
	p.closing = true
	p.mu.Unlock()

	p.cancel()
	defer close(p.done)

	drained := make(chan struct{})
	go func() {
		p.leases.Wait()
		close(drained)
	}()

	var errs []error
	select {
	case <-drained:
	case <-ctx.Done():
		p.logger.Warn("closing pool with connections still leased",
			slog.Int64("in_use", p.inUse()))
		errs = append(errs, fmt.Errorf("drain connections: %w", ctx.Err()))
	}

	if err := p.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}

	p.logger.Info("connection pool closed",
		slog.Int64("acquired", p.acquired.Load()),
		slog.Int64("released", p.released.Load()))

	return errors.Join(errs...)
}

// Closed reports whether shutdown has begun.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing
}

// Title is the product name of the underlying database ("PostgreSQL", "SQLite").
func (p *Pool) Title() string {
	return p.title
}

func (p *Pool) inUse() int64 {
	return p.acquired.Load() - p.released.Load()
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Acquired        int64 `json:"acquired"`
	Released        int64 `json:"released"`
	InUse           int64 `json:"in_use"`
	Exhausted       int64 `json:"exhausted"`
	DoubleReleases  int64 `json:"double_releases"`
	OpenConnections int   `json:"open_connections"`
	MaxConns        int   `json:"max_conns"`
	Closed          bool  `json:"closed"`
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	released := p.released.Load()
	acquired := p.acquired.Load()
	return Stats{
		Acquired:        acquired,
		Released:        released,
		InUse:           acquired - released,
		Exhausted:       p.exhausted.Load(),
		DoubleReleases:  p.doubleReleases.Load(),
		OpenConnections: p.db.Stats().OpenConnections,
		MaxConns:        p.cfg.MaxConns,
		Closed:          p.Closed(),
	}
}
