// Package server exposes a database over a JSON HTTP API.
package server

import (
	"net/http"

	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/server/handlers"
)

// Options configures the router.
type Options struct {
	// RateLimit is the number of requests allowed per second. Zero disables it.
	RateLimit float64
	// Burst is the number of requests allowed at once above RateLimit.
	Burst int
}

// NewRouter creates and configures the HTTP router
func NewRouter(db *jsonldb.Database, opts Options) http.Handler {
	mux := http.NewServeMux()
	th := handlers.NewTableHandler(db)

	mux.Handle("GET /api/health", Wrap(th.Health))

	mux.Handle("GET /api/tables", Wrap(th.ListTables))
	mux.Handle("POST /api/tables", Wrap(th.CreateTable))
	mux.Handle("GET /api/tables/{table}", Wrap(th.GetTable))
	mux.Handle("DELETE /api/tables/{table}", Wrap(th.DeleteTable))

	mux.Handle("GET /api/tables/{table}/rows", Wrap(th.SelectRows))
	mux.Handle("POST /api/tables/{table}/rows", Wrap(th.InsertRow))
	mux.Handle("PATCH /api/tables/{table}/rows", Wrap(th.UpdateRows))
	mux.Handle("DELETE /api/tables/{table}/rows", Wrap(th.DeleteRows))

	mux.Handle("POST /api/join", Wrap(th.Join))

	return LogRequests(RateLimit(opts.RateLimit, max(opts.Burst, 1))(mux))
}
