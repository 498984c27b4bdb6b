package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/aryan-salemababdi/winbash/internal/domain"
)

// ErrorResponse is the body written for every failure.
type ErrorResponse struct {
	StatusCode int          `json:"statusCode"`
	Error      ErrorMessage `json:"error"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// HandleError is the terminal stage. It resolves err into a failure and writes
// it as {"statusCode":..,"error":{"message":..}} with a matching status line.
// When the response has already started it can only log.
func HandleError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	f := domain.ToFailure(err)

	attrs := []slog.Attr{
		slog.String("request_id", requestIDFrom(w, r)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", f.StatusCode),
		slog.Any("error", err),
	}

	if ww, ok := w.(middleware.WrapResponseWriter); ok && ww.Status() != 0 {
		logger.LogAttrs(r.Context(), slog.LevelWarn, "failure after response started", attrs...)
		return
	}

	level := slog.LevelDebug
	if f.StatusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.LogAttrs(r.Context(), level, "request failed", attrs...)

	if werr := WriteFailure(w, f); werr != nil {
		logger.Warn("write failure response",
			slog.String("request_id", requestIDFrom(w, r)),
			slog.String("error", werr.Error()))
	}
}

// WriteFailure writes f as the JSON error body.
func WriteFailure(w http.ResponseWriter, f *domain.Failure) error {
	body, err := json.Marshal(ErrorResponse{
		StatusCode: f.StatusCode,
		Error:      ErrorMessage{Message: f.Message},
	})
	if err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Del("Content-Encoding")
	w.WriteHeader(f.StatusCode)
	_, err = w.Write(body)
	return err
}

func requestIDFrom(w http.ResponseWriter, r *http.Request) string {
	if id := GetRequestID(r.Context()); id != "" {
		return id
	}
	return w.Header().Get(RequestIDHeader)
}
