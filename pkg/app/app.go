// Package app provides the public API for embedding the winbash server.
// This is the stable API for external consumers.
package app

import (
	"github.com/aryan-salemababdi/winbash/internal/runtime"
)

// Runtime owns the connection pool and the HTTP listener.
// See internal/runtime.Runtime for full documentation.
type Runtime = runtime.Runtime

// Option is a functional option for configuring a Runtime.
type Option = runtime.Option

// RoutesFunc builds the routing table once the pool is available.
type RoutesFunc = runtime.RoutesFunc

// SignalListener blocks until interrupted, then shuts the Runtime down.
type SignalListener = runtime.SignalListener

// New creates a new Runtime for the loaded configuration.
// Example:
//
//	cfg, err := config.Load()
//	rt, err := app.New(cfg, app.WithLogger(logger))
var New = runtime.New

// Configuration options
var (
	WithLogger      = runtime.WithLogger
	WithRoutes      = runtime.WithRoutes
	WithPool        = runtime.WithPool
	WithRegistry    = runtime.WithRegistry
	WithClock       = runtime.WithClock
	WithListenAddr  = runtime.WithListenAddr
	WithTraceOutput = runtime.WithTraceOutput
)
