package loadgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"

	"github.com/okian/decisionlog/pkg/logger"
)

var (
	segments = []string{"new", "returning", "loyal", "churned"}
	devices  = []string{"ios", "android", "web"}
)

// generateRequests creates cfg.NumEvents rank requests with unique event IDs
// and randomized features.
func generateRequests(ctx context.Context, cfg *Config, stats *Stats) ([]Request, error) {
	logger.Get().Info(ctx, "generating rank requests", logger.Int("numEvents", cfg.NumEvents))

	reqs := make([]Request, cfg.NumEvents)
	for i := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during generation: %w", err)
		}
		reqs[i] = generateRequest(cfg.NumActions)
	}

	stats.EventsGenerated = len(reqs)
	return reqs, nil
}

func generateRequest(numActions int) Request {
	actions := make([]int, numActions)
	for i := range actions {
		actions[i] = i
	}
	rand.Shuffle(len(actions), func(i, j int) { actions[i], actions[j] = actions[j], actions[i] })

	features := `{"segment":"` + segments[rand.IntN(len(segments))] +
		`","device":"` + devices[rand.IntN(len(devices))] +
		`","hour":` + strconv.Itoa(rand.IntN(24)) + `}`

	return Request{
		EventID:        uuid.NewString(),
		Features:       features,
		DefaultRanking: actions,
	}
}

// rewardFor returns a reward for the top action of r: 1 with probability that
// favours low action numbers, 0 otherwise.
func rewardFor(r Result) float64 {
	if len(r.Ranking) == 0 {
		return 0
	}
	if rand.Float64() < 1/float64(r.Ranking[0]+2) {
		return 1
	}
	return 0
}
