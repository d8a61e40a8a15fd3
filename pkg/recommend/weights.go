package recommend

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// WeightTolerance is the allowed deviation of the weight sum from 1.
const WeightTolerance = 1e-6

// Weights assigns each strategy its share of the fused score.
type Weights map[Name]float64

// Validate requires a weight for every strategy, each finite and
// non-negative, summing to 1 within WeightTolerance.
func (w Weights) Validate() error {
	var sum float64
	for _, n := range Names {
		v, ok := w[n]
		if !ok {
			return configErr("weight for strategy %q is missing", n)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return configErr("weight for strategy %q must be a finite non-negative number, got %v", n, v)
		}
		sum += v
	}
	for n := range w {
		if !n.Valid() {
			return configErr("unknown strategy %q in weights", n)
		}
	}
	if math.Abs(sum-1) > WeightTolerance {
		return configErr("weights must sum to 1 (+/- %g), got %.9f", WeightTolerance, sum)
	}
	return nil
}

// Version fingerprints the weight configuration for cache keys.
func (w Weights) Version() string {
	var b strings.Builder
	for _, n := range Names {
		fmt.Fprintf(&b, "%s=%.9f;", n, w[n])
	}
	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:6])
}
