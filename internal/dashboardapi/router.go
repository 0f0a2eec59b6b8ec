// Package dashboardapi is the minimal read-only HTTP façade an identity
// process exposes for health checks and status inspection. The dashboard
// UI itself lives elsewhere; this is only the thin surface it consumes.
package dashboardapi

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/overblick/agentcore/internal/orchestrator"
)

// StatusProvider is the narrow orchestrator slice this façade needs.
type StatusProvider interface {
	Status() orchestrator.Status
}

// NewRouter builds the façade's chi router. providers maps identity name
// to its orchestrator, supporting a single process hosting one or more
// identities (agentd typically hosts exactly one). The surface is
// read-only and carries no secrets, so it is served unauthenticated;
// anything beyond that belongs to the dashboard deployment in front of
// it, not this core.
func NewRouter(providers map[string]StatusProvider) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(logger)
	r.Use(traceRequests)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(),
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/v1/identities/{name}/status", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		provider, ok := providers[name]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown identity: " + name})
			return
		}
		writeJSON(w, http.StatusOK, provider.Status())
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func corsOrigins() []string {
	raw := os.Getenv("AGENTCORE_CORS_ORIGINS")
	if raw == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
