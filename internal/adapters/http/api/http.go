// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/decisionlog/internal/app"
	"github.com/okian/decisionlog/internal/domain/model"
	"github.com/okian/decisionlog/internal/domain/modelslot"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the client implementation.
type Dependencies interface {
	RankDependencies
	RewardDependencies
	ModelDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	rankHandler   *RankHandler
	rewardHandler *RewardHandler
	modelHandler  *ModelHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(deps),
		rankHandler:   NewRankHandler(deps),
		rewardHandler: NewRewardHandler(deps),
		modelHandler:  NewModelHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/rank", MetricsMiddleware(s.rankHandler.HandlePostRank, "rank"))
	mux.HandleFunc("/reward", MetricsMiddleware(s.rewardHandler.HandlePostReward, "reward"))
	mux.HandleFunc("/model", MetricsMiddleware(s.modelHandler.HandlePutModel, "model"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeClientError maps client errors to HTTP responses.
func writeClientError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidRecord),
		errors.Is(err, model.ErrInvalidReward),
		errors.Is(err, modelslot.ErrInvalidRange),
		errors.Is(err, modelslot.ErrEmptyModel):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrClientClosed),
		errors.Is(err, service.ErrNoObservationSink):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, service.ErrRewardRejected),
		errors.Is(err, service.ErrRewardTransport):
		writeError(w, http.StatusBadGateway, "upstream_error", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
