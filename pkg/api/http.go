// Package api exposes the HTTP surface: profile reads and writes, group
// metadata, thread log reads, health and metrics.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"esmpd/pkg/api/handlers"
	"esmpd/pkg/engine"
	"esmpd/pkg/logger"
)

// Handler builds the router over the given engine.
func Handler(eng *engine.Engine) http.Handler {
	r := mux.NewRouter()
	r.Use(requestLog)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	handlers.RegisterProfiles(r, eng)
	handlers.RegisterGroups(r, eng)
	handlers.RegisterThreads(r)
	return r
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		next.ServeHTTP(w, r)
	})
}
