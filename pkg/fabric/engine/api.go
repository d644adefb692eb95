package engine

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes returns the HTTP API of the serve mode.
//
//	GET /api/v1/report    last run report
//	GET /api/v1/clusters  clusters, identifiers and links of the last run
//	GET /metrics          Prometheus metrics
//	GET /ping             liveness
func Routes(store *Store, metrics *Metrics) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/ping"))

	router.Get("/api/v1/report", func(w http.ResponseWriter, _ *http.Request) {
		res := store.Last()
		if res == nil {
			http.Error(w, "no run completed yet", http.StatusNotFound)
			return
		}
		writeJSON(w, res)
	})
	router.Get("/api/v1/clusters", func(w http.ResponseWriter, _ *http.Request) {
		plan := store.Plan()
		if plan == nil {
			http.Error(w, "no plan available yet", http.StatusNotFound)
			return
		}
		writeJSON(w, plan)
	})
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler())
	}

	return router
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
