// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/decisionlog/internal/domain/model"
)

const maxRankBodyBytes = 1 << 20

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	Rank(ctx context.Context, features, eventID string, defaultRanking []int) (model.RankResponse, error)
}

// rankRequest is the body of POST /rank. Features is an opaque context
// string, usually JSON.
type rankRequest struct {
	EventID        string `json:"event_id"`
	Features       string `json:"features"`
	DefaultRanking []int  `json:"default_ranking"`
}

// RankHandler handles rank requests.
type RankHandler struct {
	deps RankDependencies
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies) *RankHandler {
	return &RankHandler{deps: deps}
}

// HandlePostRank handles POST /rank requests.
func (h *RankHandler) HandlePostRank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req rankRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRankBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if len(req.DefaultRanking) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing default_ranking", ErrBadRequest))
		return
	}

	resp, err := h.deps.Rank(r.Context(), req.Features, req.EventID, req.DefaultRanking)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
