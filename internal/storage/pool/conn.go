package pool

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrReleased is returned by Conn methods called after Release.
var ErrReleased = errors.New("connection already released")

// Conn is an exclusive lease on one pooled connection. It must not be shared
// across goroutines and must be released exactly once.
type Conn struct {
	conn       *sqlx.Conn
	pool       *Pool
	acquiredAt time.Time
	released   atomic.Bool
}

// Release returns the connection to the pool. A second call is a caller bug:
// it is logged and counted, and leaves the pool untouched.
func (c *Conn) Release() {
	if !c.released.CompareAndSwap(false, true) {
		c.pool.doubleReleases.Add(1)
		c.pool.logger.Warn("connection released more than once",
			slog.Time("acquired_at", c.acquiredAt))
		return
	}

	if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		c.pool.logger.Warn("return connection to pool", slog.String("error", err.Error()))
	}
	c.pool.released.Add(1)
	c.pool.leases.Done()
}

// Released reports whether Release has been called.
func (c *Conn) Released() bool {
	return c.released.Load()
}

// ExecContext executes a statement that returns no rows.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.Released() {
		return nil, ErrReleased
	}
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryxContext runs a query returning rows.
func (c *Conn) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	if c.Released() {
		return nil, ErrReleased
	}
	return c.conn.QueryxContext(ctx, query, args...)
}

// QueryRowxContext runs a query expected to return at most one row.
func (c *Conn) QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row {
	return c.conn.QueryRowxContext(ctx, query, args...)
}

// GetContext scans a single row into dest.
func (c *Conn) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if c.Released() {
		return ErrReleased
	}
	return c.conn.GetContext(ctx, dest, query, args...)
}

// SelectContext scans all rows into dest, which must be a slice.
func (c *Conn) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if c.Released() {
		return ErrReleased
	}
	return c.conn.SelectContext(ctx, dest, query, args...)
}

// BeginTxx starts a transaction bound to this connection.
func (c *Conn) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	if c.Released() {
		return nil, ErrReleased
	}
	return c.conn.BeginTxx(ctx, opts)
}

// PingContext verifies the connection is alive.
func (c *Conn) PingContext(ctx context.Context) error {
	if c.Released() {
		return ErrReleased
	}
	return c.conn.PingContext(ctx)
}

// Rebind converts ? placeholders to the driver's bind style.
func (c *Conn) Rebind(query string) string {
	return c.conn.Rebind(query)
}
