package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"

	"github.com/aryan-salemababdi/winbash/internal/domain"
)

// logFieldsKey identifies request-scoped logging fields.
type logFieldsKey struct{}

type logFields struct {
	mu     sync.Mutex
	values map[string]string
}

// RequestLogging logs each request when it starts and when it completes,
// including method, path, status, latency and any fields added with
// AddLogField. It assigns the request ID and never short-circuits.
func RequestLogging(logger *slog.Logger, clock clockwork.Clock) Middleware {
	return func(next domain.HandlerFunc) domain.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			start := clock.Now()

			ww, ok := w.(middleware.WrapResponseWriter)
			if !ok {
				ww = middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			}

			r, requestID := withRequestID(ww, r)

			// Attach mutable log fields for later stages to enrich
			fields := &logFields{values: make(map[string]string)}
			r = r.WithContext(context.WithValue(r.Context(), logFieldsKey{}, fields))

			logger.Info("request started",
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)

			err := next(ww, r)

			// The terminal handler writes after this stage returns, so a
			// pending failure reports the status it resolves to.
			status := ww.Status()
			if err != nil && status == 0 {
				status = domain.ToFailure(err).StatusCode
				AddError(r.Context(), err)
			}
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", clock.Since(start)),
			}

			fields.mu.Lock()
			for k, v := range fields.values {
				attrs = append(attrs, slog.String(k, v))
			}
			fields.mu.Unlock()

			logger.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
			return err
		}
	}
}

// AddLogField attaches a key/value to the request-scoped log fields so
// RequestLogging can emit it. It is safe to call multiple times. No-op if
// the logging stage isn't present.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(*logFields); ok {
		fields.mu.Lock()
		fields.values[key] = value
		fields.mu.Unlock()
	}
}

// AddError attaches an error message to the request-scoped log fields. No-op
// if the logging stage isn't present or err is nil.
func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddLogField(ctx, "error", err.Error())
}
