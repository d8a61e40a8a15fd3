package recommend

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
)

const scoreTolerance = 1e-12

// fusedItem is a product's fused score before hydration.
type fusedItem struct {
	ProductID     string
	Score         float64
	Confidence    float64
	Contributions map[Name]float64
	Reasoning     []string
	GraphRaw      float64
}

type fusion struct {
	Items     []fusedItem
	Effective map[Name]float64
}

// fuse combines the strategy outcomes of one request. Weights of
// unavailable strategies are dropped and the rest rescaled to sum to 1, so
// a strategy that answered with no signal still dilutes the others. When no
// strategy answered the request fails with ErrRecommendationUnavailable.
func fuse(outcomes []outcome, weights Weights) (fusion, error) {
	var denom float64
	var reasons []string
	for _, o := range outcomes {
		if o.status == StatusUnavailable {
			reasons = append(reasons, o.err.Error())
			continue
		}
		denom += weights[o.name]
	}
	if denom <= 0 {
		if len(reasons) == 0 {
			return fusion{}, fmt.Errorf("%w: no strategy carries weight", ErrRecommendationUnavailable)
		}
		return fusion{}, fmt.Errorf("%w: %s", ErrRecommendationUnavailable, strings.Join(reasons, "; "))
	}

	effective := make(map[Name]float64, len(Names))
	for _, n := range Names {
		effective[n] = 0
	}
	for _, o := range outcomes {
		if o.status != StatusUnavailable {
			effective[o.name] = weights[o.name] / denom
		}
	}

	ordered := slices.Clone(outcomes)
	slices.SortStableFunc(ordered, func(a, b outcome) int {
		return cmp.Compare(slices.Index(Names, a.name), slices.Index(Names, b.name))
	})

	idx := map[string]int{}
	var items []fusedItem
	for _, o := range ordered {
		if o.status != StatusOK {
			continue
		}
		best := map[string]Candidate{}
		var order []string
		for _, c := range o.candidates {
			prev, ok := best[c.ProductID]
			if !ok {
				order = append(order, c.ProductID)
			}
			if !ok || clamp01(c.Score) > clamp01(prev.Score) {
				best[c.ProductID] = c
			}
		}
		for _, id := range order {
			c := best[id]
			i, ok := idx[id]
			if !ok {
				i = len(items)
				idx[id] = i
				items = append(items, fusedItem{ProductID: id, Contributions: map[Name]float64{}})
			}
			it := &items[i]
			raw := clamp01(c.Score)
			contrib := effective[o.name] * raw
			it.Contributions[o.name] = contrib
			it.Score += contrib
			it.Confidence += effective[o.name]
			if c.Reasoning != "" {
				it.Reasoning = append(it.Reasoning, string(o.name)+": "+c.Reasoning)
			}
			if o.name == Graph {
				it.GraphRaw = raw
			}
		}
	}
	for i := range items {
		items[i].Score = math.Min(items[i].Score, 1)
		items[i].Confidence = math.Min(items[i].Confidence, 1)
	}
	return fusion{Items: items, Effective: effective}, nil
}

// rankItems orders by fused score, then graph confidence, then price, then
// product id. price looks up a product's price.
func rankItems(items []fusedItem, price func(id string) float64) {
	slices.SortStableFunc(items, func(a, b fusedItem) int {
		if math.Abs(a.Score-b.Score) > scoreTolerance {
			return cmp.Compare(b.Score, a.Score)
		}
		if a.GraphRaw != b.GraphRaw {
			return cmp.Compare(b.GraphRaw, a.GraphRaw)
		}
		if c := cmp.Compare(price(a.ProductID), price(b.ProductID)); c != 0 {
			return c
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})
}
