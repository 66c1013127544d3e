// Package httpapi exposes the detection core's stats/health HTTP
// surface: /healthz, /metrics (Prometheus), /baseline/{can_id}, and
// /stats. Grounded on the teacher's cmd/ns-api (gorilla/mux router,
// JSON responses, graceful shutdown via http.Server.Shutdown), with
// protobuf/protojson dropped since the responses here are small,
// internally-defined stats records rather than the teacher's
// generated flow-query API types (see DESIGN.md).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/navispectra/canids/internal/baseline"
)

// StatsFunc reports the running pipeline counters on demand; the
// caller typically passes the Orchestrator's Stats method.
type StatsFunc func() any

// Server is the stats/health HTTP server.
type Server struct {
	httpServer *http.Server
	engine     *baseline.Engine
	stats      StatsFunc
}

// New builds a Server bound to addr, wiring handlers against engine
// (for baseline lookups) and stats (for the /stats endpoint).
func New(addr string, engine *baseline.Engine, stats StatsFunc) *Server {
	s := &Server{engine: engine, stats: stats}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	r.HandleFunc("/stats", s.statsHandler).Methods("GET")
	r.HandleFunc("/baseline/{can_id}", s.baselineHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
// Callers run it in its own goroutine, the way the teacher's ns-api
// does.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests within timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	status := "learning"
	if s.engine.Frozen() {
		status = "detecting"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) baselineHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	canID, err := strconv.ParseUint(vars["can_id"], 0, 32)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid can_id %q: %v", vars["can_id"], err), http.StatusBadRequest)
		return
	}

	bl, ok := s.engine.Lookup(uint32(canID))
	if !ok {
		http.Error(w, fmt.Sprintf("no baseline for can_id 0x%X", canID), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, bl)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
