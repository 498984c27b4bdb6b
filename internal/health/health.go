// Package health is the default routing table: a liveness endpoint that
// leases a pooled connection and pings the database.
package health

import (
	"encoding/json"
	"net/http"

	"github.com/aryan-salemababdi/winbash/internal/domain"
	"github.com/aryan-salemababdi/winbash/internal/storage/pool"
)

// Status is the body of a healthy response.
type Status struct {
	Status   string     `json:"status"`
	Database string     `json:"database"`
	Pool     pool.Stats `json:"pool"`
}

// Routes returns GET /health backed by p.
func Routes(p *pool.Pool) []domain.Route {
	return []domain.Route{
		{
			Method:  http.MethodGet,
			Path:    "/health",
			Handler: handler(p),
			Doc: domain.Operation{
				Summary:     "Service health",
				Description: "Leases a database connection and pings it.",
				Tags:        []string{"health"},
				Public:      true,
				Responses: map[int]string{
					http.StatusOK:                 "Database reachable",
					http.StatusServiceUnavailable: "Database unreachable or pool unavailable",
				},
			},
		},
	}
}

func handler(p *pool.Pool) domain.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		err := p.WithConn(r.Context(), func(c *pool.Conn) error {
			return c.PingContext(r.Context())
		})
		if err != nil {
			if f := domain.ToFailure(err); f.StatusCode == http.StatusServiceUnavailable {
				return f
			}
			return domain.Wrap(http.StatusServiceUnavailable, "database unreachable", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		return json.NewEncoder(w).Encode(Status{
			Status:   "ok",
			Database: p.Title(),
			Pool:     p.Stats(),
		})
	}
}
