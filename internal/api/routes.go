package api

import (
	"github.com/gorilla/mux"

	"github.com/signalworks/signal-engine/internal/telemetry"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check and Prometheus metrics
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.Handle("/metrics", telemetry.Handler()).Methods("GET")

	// Signal routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/signals", handler.GetRecentSignals).Methods("GET")
	api.HandleFunc("/signals/active", handler.GetActiveSignals).Methods("GET")
	api.HandleFunc("/signals/{id}", handler.GetSignal).Methods("GET")

	// Strategy analytics routes
	api.HandleFunc("/performance", handler.GetPerformance).Methods("GET")
	api.HandleFunc("/backtests", handler.GetBacktests).Methods("GET")
	api.HandleFunc("/strategies/ranking", handler.GetRanking).Methods("GET")

	return r
}
