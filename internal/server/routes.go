package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aryan-salemababdi/winbash/internal/docs"
	"github.com/aryan-salemababdi/winbash/internal/domain"
)

// Docs serves the API explorer and the rendered OpenAPI document. Other
// paths, and methods other than GET and HEAD, fall through.
func Docs(explorer *docs.Explorer) Middleware {
	return func(next domain.HandlerFunc) domain.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			if (r.Method == http.MethodGet || r.Method == http.MethodHead) && explorer.Handles(r) {
				explorer.ServeHTTP(w, r)
				return nil
			}
			return next(w, r)
		}
	}
}

// dispatch carries a route's outcome back out of the chi mux.
type dispatch struct {
	err       error
	unmatched bool
}

type dispatchKey struct{}

// Routes mounts the routing table on a chi mux. A matched route's error
// becomes the stage's error. A path no route matches continues to the next
// stage, and a path matched with the wrong method fails with 405.
func Routes(routes []domain.Route) (Middleware, error) {
	mux, err := newMux(routes)
	if err != nil {
		return nil, err
	}

	return func(next domain.HandlerFunc) domain.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			d := &dispatch{}
			mux.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), dispatchKey{}, d)))
			if d.unmatched {
				return next(w, r)
			}
			return d.err
		}
	}, nil
}

func newMux(routes []domain.Route) (mux *chi.Mux, err error) {
	// chi panics on unsupported methods and malformed patterns.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()

	mux = chi.NewRouter()
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		dispatchFrom(r).unmatched = true
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		dispatchFrom(r).err = domain.MethodNotAllowed()
	})

	for _, route := range routes {
		if route.Handler == nil {
			return nil, fmt.Errorf("route %s %s has no handler", route.Method, route.Path)
		}
		h := route.Handler
		fn := func(w http.ResponseWriter, r *http.Request) {
			dispatchFrom(r).err = h(w, r)
		}

		method := strings.ToUpper(strings.TrimSpace(route.Method))
		if method == "" || method == "*" {
			mux.HandleFunc(route.Path, fn)
			continue
		}
		mux.MethodFunc(method, route.Path, fn)
	}
	return mux, nil
}

func dispatchFrom(r *http.Request) *dispatch {
	if d, ok := r.Context().Value(dispatchKey{}).(*dispatch); ok {
		return d
	}
	// Reached only when the mux is served outside Routes.
	return &dispatch{err: errors.New("route dispatched outside the pipeline")}
}
