package api

import (
	"net/http"
)

// StatsProvider exposes the decision client counters: queue depth and
// capacity, ranked, overflowed and discarded events, uploader totals and the
// active model version.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves the client counters as a JSON object.
type StatsHandler struct {
	stats StatsProvider
}

// NewStatsHandler creates a stats handler reading from stats.
func NewStatsHandler(stats StatsProvider) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.stats.GetStats())
}
