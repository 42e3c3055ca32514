package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/decisionlog/pkg/logger"
)

// HTTPClient wraps http.Client for JSON calls against the service.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Get performs a GET request and decodes a JSON body into out when out is
// non-nil.
func (c *HTTPClient) Get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, http.StatusOK, out)
}

// Post performs a POST request with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, path string, body any, want int, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, want, out)
}

func (c *HTTPClient) do(req *http.Request, want int, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

type rewardBody struct {
	EventID string  `json:"event_id"`
	Reward  float64 `json:"reward"`
}

// submitRequests ranks every request using cfg.Workers workers and reports a
// reward for roughly cfg.RewardRate of them. Results keep request order;
// failed requests leave a zero Result.
func submitRequests(ctx context.Context, cfg *Config, client *HTTPClient, reqs []Request, stats *Stats) []Result {
	log := logger.Get()
	log.Info(ctx, "submitting rank requests",
		logger.Int("events", len(reqs)),
		logger.Int("workers", cfg.Workers))

	results := make([]Result, len(reqs))
	var ranked, failed, rewarded, rewardFailed atomic.Int64

	indexes := make(chan int, cfg.Workers*2)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				var res Result
				if err := client.Post(ctx, "/rank", reqs[i], http.StatusOK, &res); err != nil {
					failed.Add(1)
					if cfg.Verbose {
						log.Warn(ctx, "rank failed", logger.String("event_id", reqs[i].EventID), logger.Error(err))
					}
					continue
				}
				results[i] = res
				ranked.Add(1)

				if float64(i%100) >= cfg.RewardRate*100 {
					continue
				}
				body := rewardBody{EventID: res.EventID, Reward: rewardFor(res)}
				if err := client.Post(ctx, "/reward", body, http.StatusAccepted, nil); err != nil {
					rewardFailed.Add(1)
					if cfg.Verbose {
						log.Warn(ctx, "reward failed", logger.String("event_id", res.EventID), logger.Error(err))
					}
					continue
				}
				rewarded.Add(1)
			}
		}()
	}

	go func() {
		defer close(indexes)
		for i := range reqs {
			select {
			case <-ctx.Done():
				return
			case indexes <- i:
			}
		}
	}()
	wg.Wait()

	stats.EventsRanked = int(ranked.Load())
	stats.EventsFailed = int(failed.Load())
	stats.RewardsSent = int(rewarded.Load())
	stats.RewardsFailed = int(rewardFailed.Load())

	log.Info(ctx, "submission completed",
		logger.Int("ranked", stats.EventsRanked),
		logger.Int("failed", stats.EventsFailed),
		logger.Int("rewards", stats.RewardsSent),
		logger.Int("rewardFailures", stats.RewardsFailed))
	return results
}
