// Package ranking defines the contract for turning a context into a ranked
// list of actions, and a weight-table implementation of it.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/valyala/fastjson"

	"github.com/okian/decisionlog/internal/domain/modelslot"
)

// Default ranking configuration constants.
const (
	defaultEpsilon = 0.1
)

// Ranker scores a context with the given model. A nil slot means no model
// is loaded. Implementations must return parallel, equal-length slices.
type Ranker interface {
	Rank(ctx context.Context, slot *modelslot.Slot, features string, defaultRanking []int) ([]int, []float64, error)
}

// Uniform returns defaultRanking with uniform probabilities.
func Uniform(defaultRanking []int) ([]int, []float64) {
	ranking := append([]int(nil), defaultRanking...)
	probs := make([]float64, len(ranking))
	if len(ranking) == 0 {
		return ranking, probs
	}
	p := 1 / float64(len(ranking))
	for i := range probs {
		probs[i] = p
	}
	return ranking, probs
}

// Option applies a configuration option to the WeightedRanker.
type Option func(*WeightedRanker)

// WithEpsilon sets the exploration rate used when the model omits one.
func WithEpsilon(eps float64) Option {
	return func(r *WeightedRanker) {
		if eps >= 0 && eps <= 1 {
			r.epsilon = eps
		}
	}
}

// WeightedRanker orders actions by a per-action weight table and assigns
// epsilon-greedy probabilities. The model is JSON:
//
//	{"version":"2024-06-01","epsilon":0.1,"weights":{"1":0.7,"2":0.2}}
//
// The version is optional; see DeclaredVersion.
// Actions missing from the table get weight 0. Ties keep the default order.
type WeightedRanker struct {
	epsilon float64
	parsers fastjson.ParserPool
}

// NewWeightedRanker creates a ranker with configuration options.
func NewWeightedRanker(opts ...Option) *WeightedRanker {
	r := &WeightedRanker{epsilon: defaultEpsilon}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rank implements Ranker.
func (r *WeightedRanker) Rank(ctx context.Context, slot *modelslot.Slot, features string, defaultRanking []int) ([]int, []float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("context cancelled: %w", err)
	}
	if len(defaultRanking) == 0 {
		return nil, nil, ErrNoActions
	}
	if slot == nil {
		return nil, nil, ErrNoModel
	}

	weights, eps, err := r.parse(slot.Data)
	if err != nil {
		return nil, nil, err
	}

	ranking := append([]int(nil), defaultRanking...)
	sort.SliceStable(ranking, func(i, j int) bool {
		return weights[ranking[i]] > weights[ranking[j]]
	})

	n := float64(len(ranking))
	probs := make([]float64, len(ranking))
	for i := range probs {
		probs[i] = eps / n
	}
	probs[0] += 1 - eps
	return ranking, probs, nil
}

// DeclaredVersion returns the "version" string a JSON model declares, or ""
// when the model is not JSON or declares none.
func DeclaredVersion(data []byte) string {
	return fastjson.GetString(data, "version")
}

func (r *WeightedRanker) parse(data []byte) (map[int]float64, float64, error) {
	p := r.parsers.Get()
	defer r.parsers.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadModel, err)
	}

	eps := r.epsilon
	if ev := v.Get("epsilon"); ev != nil {
		f, err := ev.Float64()
		if err != nil || f < 0 || f > 1 {
			return nil, 0, fmt.Errorf("%w: epsilon must be a number in [0,1]", ErrBadModel)
		}
		eps = f
	}

	obj := v.GetObject("weights")
	if obj == nil {
		return nil, 0, fmt.Errorf("%w: missing weights object", ErrBadModel)
	}
	weights := make(map[int]float64, obj.Len())
	var visitErr error
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if visitErr != nil {
			return
		}
		action, err := strconv.Atoi(string(key))
		if err != nil {
			visitErr = fmt.Errorf("%w: action %q is not an integer", ErrBadModel, key)
			return
		}
		w, err := val.Float64()
		if err != nil {
			visitErr = fmt.Errorf("%w: weight for action %d: %v", ErrBadModel, action, err)
			return
		}
		weights[action] = w
	})
	if visitErr != nil {
		return nil, 0, visitErr
	}
	return weights, eps, nil
}
