package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/signalworks/signal-engine/internal/database"
	"github.com/signalworks/signal-engine/internal/kafka"
	"github.com/signalworks/signal-engine/internal/redis"
	"github.com/signalworks/signal-engine/internal/selector"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Ranker scores strategies on demand, satisfied by *selector.Selector.
type Ranker interface {
	RankAll() ([]*selector.Score, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	db       *database.DB
	producer *kafka.Producer
	redis    *redis.Client
	ranker   Ranker
}

// NewHandler creates a new Handler
func NewHandler(db *database.DB, producer *kafka.Producer, redisClient *redis.Client, ranker Ranker) *Handler {
	return &Handler{
		db:       db,
		producer: producer,
		redis:    redisClient,
		ranker:   ranker,
	}
}

// GetRecentSignals handles GET /signals
func (h *Handler) GetRecentSignals(w http.ResponseWriter, r *http.Request) {
	signals, err := h.db.GetRecentSignals(listLimit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, signals)
}

// GetActiveSignals handles GET /signals/active
func (h *Handler) GetActiveSignals(w http.ResponseWriter, r *http.Request) {
	signals, err := h.db.GetActiveSignals()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, signals)
}

// GetSignal handles GET /signals/{id}
func (h *Handler) GetSignal(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid signal id", http.StatusBadRequest)
		return
	}

	signal, err := h.db.GetSignal(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, signal)
}

// GetPerformance handles GET /performance
func (h *Handler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.GetAllPerformance()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, rows)
}

// GetBacktests handles GET /backtests
func (h *Handler) GetBacktests(w http.ResponseWriter, r *http.Request) {
	results, err := h.db.GetRecentBacktests(listLimit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, results)
}

// GetRanking handles GET /strategies/ranking
func (h *Handler) GetRanking(w http.ResponseWriter, r *http.Request) {
	if h.ranker == nil {
		http.Error(w, "ranking not available", http.StatusServiceUnavailable)
		return
	}

	scores, err := h.ranker.RankAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if scores == nil {
		scores = []*selector.Score{}
	}

	respondJSON(w, http.StatusOK, scores)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  map[string]string{},
	}
	services := health["services"].(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			services["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			services["postgres"] = "healthy"
		}
	} else {
		services["postgres"] = "not configured"
		allHealthy = false
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	if h.producer != nil {
		services["kafka"] = "configured"
	} else {
		services["kafka"] = "not configured"
	}

	if !allHealthy {
		health["status"] = "degraded"
	}

	respondJSON(w, http.StatusOK, health)
}

// listLimit parses the limit query parameter, bounded to sane values.
func listLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
