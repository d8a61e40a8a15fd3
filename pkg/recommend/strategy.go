package recommend

import (
	"context"
	"errors"
	"math"
)

// Strategy scores products for one query. An empty result or an error
// wrapping ErrNoSignal means the backend answered without finding anything;
// any other error marks the strategy unavailable for this request.
type Strategy interface {
	Name() Name
	Score(ctx context.Context, q *Query) ([]Candidate, error)
}

// outcome is the result of running one strategy for one request.
type outcome struct {
	name       Name
	status     Status
	candidates []Candidate
	err        error
	durationMs int64
}

func newOutcome(name Name, cands []Candidate, err error) outcome {
	o := outcome{name: name}
	switch {
	case err == nil && len(cands) > 0:
		o.status = StatusOK
		o.candidates = cands
	case err == nil, errors.Is(err, ErrNoSignal):
		o.status = StatusNoSignal
		o.err = err
	default:
		o.status = StatusUnavailable
		var se *StrategyError
		if !errors.As(err, &se) {
			err = unavailable(name, err)
		}
		o.err = err
	}
	return o
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 1:
		return 1
	}
	return v
}
