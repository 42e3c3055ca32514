// Package codec defines the wire form of events and rewards.
//
// A serialized event is a single compact JSON object that never contains a
// newline, so batches can join events with '\n':
//
//	{"EventId":"…","v":"<model version>","a":[1,0],"p":[0.9,0.1],"c":"<features>","t":"<RFC3339Nano>"}
//
// A reward is {"EventId":"…","v":<raw JSON value>}.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fastjson"

	"github.com/okian/decisionlog/internal/domain/model"
)

// Separator joins serialized events inside a batch.
const Separator = '\n'

type wireEvent struct {
	EventID       string    `json:"EventId"`
	ModelVersion  string    `json:"v"`
	Ranking       []int     `json:"a"`
	Probabilities []float64 `json:"p"`
	Features      string    `json:"c"`
	Timestamp     string    `json:"t"`
}

type wireReward struct {
	EventID string          `json:"EventId"`
	Value   json.RawMessage `json:"v"`
}

var parserPool fastjson.ParserPool //nolint:gochecknoglobals // pooled parsers are safe for concurrent Get/Put

// EncodeEvent serializes rec into its newline-free wire form.
func EncodeEvent(rec *model.EventRecord) ([]byte, error) {
	b, err := json.Marshal(wireEvent{
		EventID:       rec.EventID,
		ModelVersion:  rec.ModelVersion,
		Ranking:       rec.Ranking,
		Probabilities: rec.Probabilities,
		Features:      rec.Features,
		Timestamp:     rec.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	// encoding/json escapes control characters; this guards the batch contract.
	if bytes.IndexByte(b, Separator) >= 0 {
		return nil, fmt.Errorf("%w: separator in payload", ErrEncode)
	}
	return b, nil
}

// DecodeEvent parses a single serialized event.
func DecodeEvent(b []byte) (model.EventRecord, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(b)
	if err != nil {
		return model.EventRecord{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	actions := v.GetArray("a")
	probs := v.GetArray("p")
	ranking := make([]int, len(actions))
	for i, a := range actions {
		n, err := a.Int()
		if err != nil {
			return model.EventRecord{}, fmt.Errorf("%w: action %d: %v", ErrDecode, i, err)
		}
		ranking[i] = n
	}
	probabilities := make([]float64, len(probs))
	for i, pv := range probs {
		f, err := pv.Float64()
		if err != nil {
			return model.EventRecord{}, fmt.Errorf("%w: probability %d: %v", ErrDecode, i, err)
		}
		probabilities[i] = f
	}

	ts, err := time.Parse(time.RFC3339Nano, string(v.GetStringBytes("t")))
	if err != nil {
		return model.EventRecord{}, fmt.Errorf("%w: timestamp: %v", ErrDecode, err)
	}

	eventID := string(v.GetStringBytes("EventId"))
	if eventID == "" {
		return model.EventRecord{}, fmt.Errorf("%w: missing EventId", ErrDecode)
	}
	rec, err := model.NewEventRecord(
		eventID,
		string(v.GetStringBytes("v")),
		ranking,
		probabilities,
		string(v.GetStringBytes("c")),
		ts,
	)
	if err != nil {
		return model.EventRecord{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return rec, nil
}

// EncodeReward serializes a reward record.
func EncodeReward(r *model.RewardRecord) ([]byte, error) {
	b, err := json.Marshal(wireReward{EventID: r.EventID, Value: r.Value})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return b, nil
}

// SplitBatch returns the serialized events contained in a batch body.
func SplitBatch(batch []byte) [][]byte {
	if len(batch) == 0 {
		return nil
	}
	return bytes.Split(batch, []byte{Separator})
}
