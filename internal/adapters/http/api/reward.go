package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const maxRewardBodyBytes = 64 << 10

// RewardDependencies defines the interface for reward reporting.
type RewardDependencies interface {
	Reward(ctx context.Context, eventID string, value any) error
}

// rewardRequest is the body of POST /reward. Reward is passed through as raw
// JSON.
type rewardRequest struct {
	EventID string          `json:"event_id"`
	Reward  json.RawMessage `json:"reward"`
}

type ackResponse struct {
	Status string `json:"status"`
}

// RewardHandler handles reward requests.
type RewardHandler struct {
	deps RewardDependencies
}

// NewRewardHandler creates a new reward handler.
func NewRewardHandler(deps RewardDependencies) *RewardHandler {
	return &RewardHandler{deps: deps}
}

// HandlePostReward handles POST /reward requests.
func (h *RewardHandler) HandlePostReward(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req rewardRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRewardBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	switch {
	case strings.TrimSpace(req.EventID) == "":
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing event_id", ErrBadRequest))
		return
	case len(req.Reward) == 0:
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing reward", ErrBadRequest))
		return
	}

	if err := h.deps.Reward(r.Context(), req.EventID, req.Reward); err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
