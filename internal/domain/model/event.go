// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// EventRecord is one logged ranking decision. It is immutable once built;
// use NewEventRecord so the invariants below always hold.
type EventRecord struct {
	EventID       string    // globally unique; generated when the caller supplies none
	ModelVersion  string    // version tag of the model that produced the ranking
	Ranking       []int     // ordered action ids, non-empty
	Probabilities []float64 // parallel to Ranking, each in [0,1]
	Features      string    // opaque caller context, copied
	Timestamp     time.Time // capture time
}

// NewEventRecord validates and copies its inputs into a new EventRecord.
// An empty eventID is replaced by a fresh random identifier.
func NewEventRecord(eventID, modelVersion string, ranking []int, probabilities []float64, features string, ts time.Time) (EventRecord, error) {
	if err := validateRanking(ranking, probabilities); err != nil {
		return EventRecord{}, err
	}
	if eventID == "" {
		eventID = NewEventID()
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return EventRecord{
		EventID:       eventID,
		ModelVersion:  modelVersion,
		Ranking:       append([]int(nil), ranking...),
		Probabilities: append([]float64(nil), probabilities...),
		Features:      features,
		Timestamp:     ts.UTC(),
	}, nil
}

// NewEventID returns a random, globally unique event identifier.
func NewEventID() string {
	return uuid.NewString()
}

func validateRanking(ranking []int, probabilities []float64) error {
	if len(ranking) == 0 {
		return fmt.Errorf("%w: empty ranking", ErrInvalidRecord)
	}
	if len(ranking) != len(probabilities) {
		return fmt.Errorf("%w: %d actions but %d probabilities", ErrInvalidRecord, len(ranking), len(probabilities))
	}
	for i, p := range probabilities {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: probability %v at position %d outside [0,1]", ErrInvalidRecord, p, i)
		}
	}
	return nil
}

// Response builds the caller-visible RankResponse. The slices are copied so
// the response is independent of the record.
func (e *EventRecord) Response() RankResponse {
	return RankResponse{
		EventID:       e.EventID,
		ModelVersion:  e.ModelVersion,
		Ranking:       append([]int(nil), e.Ranking...),
		Probabilities: append([]float64(nil), e.Probabilities...),
		Features:      e.Features,
	}
}

// RankResponse is returned to the caller of Rank.
type RankResponse struct {
	EventID       string    `json:"event_id"`
	ModelVersion  string    `json:"model_version"`
	Ranking       []int     `json:"ranking"`
	Probabilities []float64 `json:"probabilities"`
	Features      string    `json:"features,omitempty"`
}

// TopAction returns the highest ranked action.
func (r RankResponse) TopAction() int {
	return r.Ranking[0]
}

// Len returns the number of ranked actions.
func (r RankResponse) Len() int {
	return len(r.Ranking)
}

// Action returns the action at position i.
func (r RankResponse) Action(i int) (int, error) {
	if i < 0 || i >= len(r.Ranking) {
		return 0, fmt.Errorf("%w: action %d of %d", ErrIndexOutOfRange, i, len(r.Ranking))
	}
	return r.Ranking[i], nil
}

// Probability returns the probability of the action at position i.
func (r RankResponse) Probability(i int) (float64, error) {
	if i < 0 || i >= len(r.Probabilities) {
		return 0, fmt.Errorf("%w: probability %d of %d", ErrIndexOutOfRange, i, len(r.Probabilities))
	}
	return r.Probabilities[i], nil
}

// RewardRecord carries reward feedback for an earlier event.
type RewardRecord struct {
	EventID string
	Value   json.RawMessage
}

// NewRewardRecord encodes value as the opaque reward payload. Strings that
// already hold valid JSON (for example "1.5") are used verbatim.
func NewRewardRecord(eventID string, value any) (RewardRecord, error) {
	if eventID == "" {
		return RewardRecord{}, fmt.Errorf("%w: missing event id", ErrInvalidReward)
	}
	var raw json.RawMessage
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case string:
		if json.Valid([]byte(v)) {
			raw = json.RawMessage(v)
		} else {
			b, err := json.Marshal(v)
			if err != nil {
				return RewardRecord{}, fmt.Errorf("%w: %v", ErrInvalidReward, err)
			}
			raw = b
		}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return RewardRecord{}, fmt.Errorf("%w: %v", ErrInvalidReward, err)
		}
		raw = b
	}
	if len(raw) == 0 || !json.Valid(raw) {
		return RewardRecord{}, fmt.Errorf("%w: reward is not valid JSON", ErrInvalidReward)
	}
	return RewardRecord{EventID: eventID, Value: append(json.RawMessage(nil), raw...)}, nil
}
