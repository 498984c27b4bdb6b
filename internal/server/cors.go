package server

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/aryan-salemababdi/winbash/internal/domain"
)

// CORS allows every origin, the common methods and any request header.
// Preflight requests are answered by the stage itself.
func CORS() Middleware {
	return FromHTTP(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPut,
			http.MethodPatch,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{RequestIDHeader},
	}))
}

// FromHTTP adapts standard net/http middleware into a stage. Whatever the
// rest of the pipeline returns passes through unchanged.
func FromHTTP(mw func(http.Handler) http.Handler) Middleware {
	return func(next domain.HandlerFunc) domain.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			var err error
			mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				err = next(w, r)
			})).ServeHTTP(w, r)
			return err
		}
	}
}
