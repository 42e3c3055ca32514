// Package loadgen drives a running decision client over its HTTP API: it
// ranks generated contexts, reports rewards for a share of them and checks
// the client's counters afterwards.
package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL    string        // Base URL of the service
	NumEvents  int           // Number of rank requests to send
	NumActions int           // Size of each default ranking
	RewardRate float64       // Share of ranked events that receive a reward
	Workers    int           // Number of concurrent workers
	Timeout    time.Duration // HTTP request timeout
	SettleTime time.Duration // Wait before reading stats, lets uploads finish
	OutputFile string        // Output file for ranked events, empty to skip
	Verbose    bool          // Enable per-request logging
}

// Request is one generated rank request.
type Request struct {
	EventID        string `json:"event_id"`
	Features       string `json:"features"`
	DefaultRanking []int  `json:"default_ranking"`
}

// Result is the service's answer to a rank request.
type Result struct {
	EventID       string    `json:"event_id"`
	ModelVersion  string    `json:"model_version"`
	Ranking       []int     `json:"ranking"`
	Probabilities []float64 `json:"probabilities"`
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated int
	EventsRanked    int
	EventsFailed    int
	RewardsSent     int
	RewardsFailed   int
	ServiceStats    map[string]interface{}
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
