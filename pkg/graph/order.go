package graph

import (
	"slices"
	"strings"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
)

// Sort orders products in place. Ties always fall back to product id so the
// result is deterministic.
func Sort(products []ScoredProduct, order Order) {
	slices.SortStableFunc(products, func(a, b ScoredProduct) int {
		var c int
		switch order {
		case OrderPrice:
			c = cmpAsc(a.Product.Price, b.Product.Price)
			if c == 0 {
				c = cmpAsc(b.Confidence, a.Confidence)
			}
		case OrderName:
			c = strings.Compare(strings.ToLower(a.Product.Name), strings.ToLower(b.Product.Name))
		default:
			c = cmpAsc(b.Confidence, a.Confidence)
			if c == 0 {
				c = cmpAsc(a.Product.Price, b.Product.Price)
			}
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.Product.ID, b.Product.ID)
	})
}

func cmpAsc(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// FilterBySkill drops products whose difficulty exceeds level.
func FilterBySkill(products []ScoredProduct, level common.SkillLevel) []ScoredProduct {
	out := products[:0]
	for _, p := range products {
		if level.Permits(p.Product.Difficulty) {
			out = append(out, p)
		}
	}
	return out
}

// MergeMax collapses duplicate products, keeping the highest confidence.
func MergeMax(products []ScoredProduct) []ScoredProduct {
	idx := make(map[string]int, len(products))
	out := make([]ScoredProduct, 0, len(products))
	for _, p := range products {
		if i, ok := idx[p.Product.ID]; ok {
			if p.Confidence > out[i].Confidence {
				out[i] = p
			}
			continue
		}
		idx[p.Product.ID] = len(out)
		out = append(out, p)
	}
	return out
}

// Limit truncates to n entries; n <= 0 means unlimited.
func Limit[T any](in []T, n int) []T {
	if n > 0 && len(in) > n {
		return in[:n]
	}
	return in
}

// LearningOrder sorts learning path steps by required level, then task
// difficulty, then duration, and numbers them from 1.
func LearningOrder(steps []TaskStep) {
	slices.SortStableFunc(steps, func(a, b TaskStep) int {
		if c := int(a.RequiredLevel) - int(b.RequiredLevel); c != 0 {
			return c
		}
		if c := int(a.Task.Difficulty) - int(b.Task.Difficulty); c != 0 {
			return c
		}
		if c := a.Task.EstimatedMinutes - b.Task.EstimatedMinutes; c != 0 {
			return c
		}
		return strings.Compare(a.Task.ID, b.Task.ID)
	})
	for i := range steps {
		steps[i].Step = i + 1
	}
}

// GroupByEquipment inverts a per-product safety map into one requirement per
// equipment item, sorted by equipment id with sorted product ids.
func GroupByEquipment(byProduct map[string][]common.SafetyEquipment) []SafetyRequirement {
	idx := map[string]int{}
	var out []SafetyRequirement
	for pid, items := range byProduct {
		for _, eq := range items {
			i, ok := idx[eq.ID]
			if !ok {
				i = len(out)
				idx[eq.ID] = i
				out = append(out, SafetyRequirement{Equipment: eq})
			}
			out[i].ProductIDs = append(out[i].ProductIDs, pid)
		}
	}
	for i := range out {
		slices.Sort(out[i].ProductIDs)
	}
	slices.SortFunc(out, func(a, b SafetyRequirement) int {
		return strings.Compare(a.Equipment.ID, b.Equipment.ID)
	})
	return out
}
