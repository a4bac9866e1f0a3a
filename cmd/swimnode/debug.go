package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/swim/internal/swim"
)

// newDebugServer builds the node's small operator-facing HTTP
// surface: liveness, a membership snapshot, and Prometheus metrics.
func newDebugServer(addr string, engine *swim.Engine) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/members", func(w http.ResponseWriter, req *http.Request) {
		members := engine.Members()
		out := make([]memberView, 0, len(members))
		for _, m := range members {
			out = append(out, memberView{
				ID:          m.ID.ID,
				Address:     m.ID.Address,
				Status:      m.Status.String(),
				Incarnation: m.Incarnation,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"local":   engine.Local().ID.String(),
			"alive":   engine.AliveCount(),
			"members": out,
		})
	})

	r.Get("/traces", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, engine.RecentSpans(100))
	})

	r.Handle("/metrics", promhttp.Handler())

	return &http.Server{Addr: addr, Handler: r}
}

type memberView struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	Incarnation uint64 `json:"incarnation"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
